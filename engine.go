package gatehouse

import (
	"context"
	"fmt"

	"github.com/oarkflow/gatehouse/logger"
	"github.com/oarkflow/gatehouse/storage"
)

// Engine is the administration surface over a Registry: it logs every
// Check, every storage apply failure and every watched change and, when a
// storage driver is configured, persists every successful write and
// applies every watched remote change. Engine
// is not a singleton — construct one per process or per test.
type Engine struct {
	registry *Registry
	driver   storage.Driver
	logger   logger.Logger

	watchCancel context.CancelFunc
}

// EngineOption configures an Engine at construction time via the
// functional-options pattern.
type EngineOption func(*Engine) error

// WithDriver installs a storage driver. Load is called immediately to
// populate the Registry; callers that want Watch running should call
// Engine.StartWatch afterward.
func WithDriver(d storage.Driver) EngineOption {
	return func(e *Engine) error {
		e.driver = d
		return nil
	}
}

// WithLogger installs a Logger on the Engine.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// NewEngine builds an Engine around a fresh Registry and applies opts in
// order. If a driver was installed via WithDriver, its snapshot is loaded
// into the Registry before NewEngine returns.
func NewEngine(ctx context.Context, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		registry: NewRegistry(),
		logger:   logger.NewNullLogger(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, newErr(Internal, "NewEngine", "applying option", err)
		}
	}
	if e.driver != nil {
		snap, err := e.driver.Load(ctx)
		if err != nil {
			return nil, errStorageUnavailable("NewEngine", "loading initial snapshot", err)
		}
		if snap != nil {
			e.registry.Restore(fromStorageSnapshot(snap))
		}
	}
	return e, nil
}

// StartWatch subscribes to the configured storage driver and applies every
// remote change to the Registry as it arrives, without re-persisting it.
// It is a no-op if no driver was configured. Changes are drained by a
// single goroutine; callers stop it via StopWatch (or Close) or by
// cancelling ctx.
func (e *Engine) StartWatch(ctx context.Context) error {
	if e.driver == nil {
		return nil
	}
	ch, err := e.driver.Watch(ctx)
	if err != nil {
		return errStorageUnavailable("StartWatch", "subscribing to storage driver", err)
	}
	watchCtx, cancel := context.WithCancel(ctx)
	e.watchCancel = cancel
	go func() {
		for {
			select {
			case <-watchCtx.Done():
				return
			case change, ok := <-ch:
				if !ok {
					return
				}
				e.applyRemote(change)
			}
		}
	}()
	return nil
}

// StopWatch cancels a running watch started by StartWatch; a no-op if none
// is running.
func (e *Engine) StopWatch() {
	if e.watchCancel != nil {
		e.watchCancel()
	}
}

func (e *Engine) applyRemote(change storage.Change) {
	if err := applyStorageChange(e.registry, change); err != nil {
		e.logger.Error("discarding unapplied watch change", "kind", change.Kind.String(), "error", err.Error())
		return
	}
	e.logger.Debug("applied watch change", "kind", change.Kind.String(), "op", change.Op.String())
}

// Close releases the Engine's storage driver, if any.
func (e *Engine) Close() error {
	e.StopWatch()
	if e.driver == nil {
		return nil
	}
	return e.driver.Close()
}

// Check evaluates a CheckRequest and logs the outcome.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	res := e.registry.Check(req)
	e.logger.Debug("check",
		"actor", fmt.Sprintf("%s/%s", req.ActorType, req.ActorName),
		"target", fmt.Sprintf("%s/%s", req.TargetType, req.TargetName),
		"action", req.Action,
		"decision", res.Decision.String(),
	)
	return res, nil
}

// --- Target ---

func (e *Engine) AddTarget(ctx context.Context, t *Target) error {
	if err := e.registry.AddTarget(t); err != nil {
		return err
	}
	return e.persist(ctx, storage.Change{Kind: storage.KindTarget, Op: storage.OpPut, Target: toStorageTarget(t)})
}

// AttributeEdit names a set of values to add to or remove from an
// attribute key, keyed by the attribute's name.
type AttributeEdit map[string][]string

// applyAttributeAdds merges edits into attrs, creating keys as needed.
func applyAttributeAdds(attrs AttributeMap, edits AttributeEdit) {
	for key, values := range edits {
		set, ok := attrs[key]
		if !ok {
			set = NewStringSet()
			attrs[key] = set
		}
		for _, v := range values {
			set.Add(v)
		}
	}
}

// applyAttributeRemoves drops the named values from attrs. Removing a value
// that isn't present is silently ignored; removing the last value under a
// key removes the key itself.
func applyAttributeRemoves(attrs AttributeMap, edits AttributeEdit) {
	for key, values := range edits {
		set, ok := attrs[key]
		if !ok {
			continue
		}
		for _, v := range values {
			set.Remove(v)
		}
		if len(set) == 0 {
			delete(attrs, key)
		}
	}
}

// ModifyTargetRequest captures the incremental edits a Target
// modification supports: add/remove actions, add/remove attribute
// key+value pairs.
type ModifyTargetRequest struct {
	Type             string
	Name             string
	AddActions       []string
	RemoveActions    []string
	AddAttributes    AttributeEdit
	RemoveAttributes AttributeEdit
}

func (e *Engine) ModifyTarget(ctx context.Context, req ModifyTargetRequest) error {
	t, ok := e.registry.GetTarget(req.Type, req.Name)
	if !ok {
		return errNotFound("ModifyTarget", "target not registered")
	}
	for _, action := range req.AddActions {
		t.Actions.Add(Canonicalize(action))
	}
	for _, action := range req.RemoveActions {
		t.Actions.Remove(Canonicalize(action))
	}
	applyAttributeAdds(t.Attributes, req.AddAttributes)
	applyAttributeRemoves(t.Attributes, req.RemoveAttributes)
	if err := e.registry.ModifyTarget(t); err != nil {
		return err
	}
	return e.persist(ctx, storage.Change{Kind: storage.KindTarget, Op: storage.OpPut, Target: toStorageTarget(t)})
}

func (e *Engine) RemoveTarget(ctx context.Context, typ, name string) error {
	if err := e.registry.RemoveTarget(typ, name); err != nil {
		return err
	}
	return e.persist(ctx, storage.Change{Kind: storage.KindTarget, Op: storage.OpDelete, Key: storage.Identity{Type: typ, Name: name}})
}

func (e *Engine) GetTarget(typ, name string) (*Target, bool) {
	return e.registry.GetTarget(typ, name)
}

func (e *Engine) GetTargets(f TargetFilter) []*Target {
	return e.registry.ListTargets(f)
}

// --- Actor ---

func (e *Engine) AddActor(ctx context.Context, a *Actor) error {
	if err := e.registry.AddActor(a); err != nil {
		return err
	}
	return e.persist(ctx, storage.Change{Kind: storage.KindActor, Op: storage.OpPut, Actor: toStorageActor(a)})
}

// ModifyActorRequest captures the incremental edits an Actor modification
// supports: the same add/remove attribute merge as Target, minus actions
// (actors have none).
type ModifyActorRequest struct {
	Type             string
	Name             string
	AddAttributes    AttributeEdit
	RemoveAttributes AttributeEdit
}

func (e *Engine) ModifyActor(ctx context.Context, req ModifyActorRequest) error {
	a, ok := e.registry.GetActor(req.Type, req.Name)
	if !ok {
		return errNotFound("ModifyActor", "actor not registered")
	}
	applyAttributeAdds(a.Attributes, req.AddAttributes)
	applyAttributeRemoves(a.Attributes, req.RemoveAttributes)
	if err := e.registry.ModifyActor(a); err != nil {
		return err
	}
	return e.persist(ctx, storage.Change{Kind: storage.KindActor, Op: storage.OpPut, Actor: toStorageActor(a)})
}

func (e *Engine) RemoveActor(ctx context.Context, typ, name string) error {
	if err := e.registry.RemoveActor(typ, name); err != nil {
		return err
	}
	return e.persist(ctx, storage.Change{Kind: storage.KindActor, Op: storage.OpDelete, Key: storage.Identity{Type: typ, Name: name}})
}

func (e *Engine) GetActor(typ, name string) (*Actor, bool) {
	return e.registry.GetActor(typ, name)
}

func (e *Engine) GetActors(f ActorFilter) []*Actor {
	return e.registry.ListActors(f)
}

// --- Group ---

func (e *Engine) AddGroup(ctx context.Context, g *Group) error {
	if err := e.registry.AddGroup(g); err != nil {
		return err
	}
	return e.persist(ctx, storage.Change{Kind: storage.KindGroup, Op: storage.OpPut, Group: toStorageGroup(g)})
}

// ModifyGroupRequest captures the incremental member/role edits a Group
// modification supports (add members, add roles, remove members, remove
// roles) instead of a full-group replace.
type ModifyGroupRequest struct {
	Name          string
	AddMembers    []GroupMember
	AddRoles      []string
	RemoveMembers []GroupMember
	RemoveRoles   []string
}

func (e *Engine) ModifyGroup(ctx context.Context, req ModifyGroupRequest) error {
	g, ok := e.registry.GetGroup(req.Name)
	if !ok {
		return errNotFound("ModifyGroup", "group not registered")
	}
	for _, m := range req.AddMembers {
		g.Members[GroupMember{Type: Canonicalize(m.Type), Name: Canonicalize(m.Name)}] = struct{}{}
	}
	for _, m := range req.RemoveMembers {
		delete(g.Members, GroupMember{Type: Canonicalize(m.Type), Name: Canonicalize(m.Name)})
	}
	for _, role := range req.AddRoles {
		g.Roles.Add(Canonicalize(role))
	}
	for _, role := range req.RemoveRoles {
		g.Roles.Remove(Canonicalize(role))
	}
	if err := e.registry.ModifyGroup(g); err != nil {
		return err
	}
	return e.persist(ctx, storage.Change{Kind: storage.KindGroup, Op: storage.OpPut, Group: toStorageGroup(g)})
}

func (e *Engine) RemoveGroup(ctx context.Context, name string) error {
	if err := e.registry.RemoveGroup(name); err != nil {
		return err
	}
	return e.persist(ctx, storage.Change{Kind: storage.KindGroup, Op: storage.OpDelete, Key: storage.Identity{Name: name}})
}

func (e *Engine) GetGroup(name string) (*Group, bool) {
	return e.registry.GetGroup(name)
}

func (e *Engine) GetGroups(f GroupFilter) []*Group {
	return e.registry.ListGroups(f)
}

// --- Role ---

func (e *Engine) AddRole(ctx context.Context, r *Role) error {
	if err := e.registry.AddRole(r); err != nil {
		return err
	}
	return e.persist(ctx, storage.Change{Kind: storage.KindRole, Op: storage.OpPut, Role: toStorageRole(r)})
}

// ModifyRoleRequest captures the incremental granted_to edits a Role
// modification supports, using the same add/remove merge rule as
// ModifyGroupRequest.
type ModifyRoleRequest struct {
	Name            string
	AddGrantedTo    []string
	RemoveGrantedTo []string
}

func (e *Engine) ModifyRole(ctx context.Context, req ModifyRoleRequest) error {
	role, ok := e.registry.GetRole(req.Name)
	if !ok {
		return errNotFound("ModifyRole", "role not registered")
	}
	for _, group := range req.AddGrantedTo {
		role.GrantedTo.Add(Canonicalize(group))
	}
	for _, group := range req.RemoveGrantedTo {
		role.GrantedTo.Remove(Canonicalize(group))
	}
	if err := e.registry.ModifyRole(role); err != nil {
		return err
	}
	return e.persist(ctx, storage.Change{Kind: storage.KindRole, Op: storage.OpPut, Role: toStorageRole(role)})
}

func (e *Engine) RemoveRole(ctx context.Context, name string) error {
	if err := e.registry.RemoveRole(name); err != nil {
		return err
	}
	return e.persist(ctx, storage.Change{Kind: storage.KindRole, Op: storage.OpDelete, Key: storage.Identity{Name: name}})
}

func (e *Engine) GetRole(name string) (*Role, bool) {
	return e.registry.GetRole(name)
}

func (e *Engine) GetRoles(f RoleFilter) []*Role {
	return e.registry.ListRoles(f)
}

// --- Policy ---

func (e *Engine) AddPolicy(ctx context.Context, p *Policy) error {
	if err := e.registry.AddPolicy(p); err != nil {
		return err
	}
	return e.persist(ctx, storage.Change{Kind: storage.KindPolicy, Op: storage.OpPut, Policy: toStoragePolicy(p)})
}

func (e *Engine) ModifyPolicy(ctx context.Context, p *Policy) error {
	if err := e.registry.ModifyPolicy(p); err != nil {
		return err
	}
	return e.persist(ctx, storage.Change{Kind: storage.KindPolicy, Op: storage.OpPut, Policy: toStoragePolicy(p)})
}

func (e *Engine) RemovePolicy(ctx context.Context, name string) error {
	if err := e.registry.RemovePolicy(name); err != nil {
		return err
	}
	return e.persist(ctx, storage.Change{Kind: storage.KindPolicy, Op: storage.OpDelete, Key: storage.Identity{Name: name}})
}

func (e *Engine) GetPolicy(name string) (*Policy, bool) {
	return e.registry.GetPolicy(name)
}

func (e *Engine) GetPolicies(f PolicyFilter) []*Policy {
	return e.registry.ListPolicies(f)
}

// Registry exposes the underlying Registry for callers that need direct
// Snapshot access (storage drivers, the CLI).
func (e *Engine) Registry() *Registry {
	return e.registry
}

// persist pushes a change to the storage driver, if any. A storage failure
// after an in-memory write is surfaced as StorageUnavailable; the
// in-memory write is not rolled back, so the Registry keeps the change
// even though storage does not have it. Repeating the same Add or Remove
// afterwards fails with AlreadyExists or NotFound, since the Registry
// already reflects it.
func (e *Engine) persist(ctx context.Context, change storage.Change) error {
	if e.driver == nil {
		return nil
	}
	if err := e.driver.Apply(ctx, change); err != nil {
		e.logger.Error("storage apply failed", "kind", change.Kind, "op", change.Op, "error", err.Error())
		return errStorageUnavailable("persist", "applying change to storage driver", err)
	}
	return nil
}
