package gatehouse

import "sync"

// Registry is the in-memory store of targets, actors, groups, roles and
// policies. It is not a singleton: callers construct one per Engine and
// may run several independently (e.g. in tests). All access goes through
// a single RWMutex — reads take RLock, writes take Lock — so the
// evaluation path never races with an Add/Modify/Remove or a
// storage-driver Watch callback applying a remote change.
type Registry struct {
	mu sync.RWMutex

	targets  map[targetKey]*Target
	actors   map[actorKey]*Actor
	groups   map[string]*Group
	roles    map[string]*Role
	policies map[string]*Policy
}

type targetKey struct {
	typ  string
	name string
}

type actorKey struct {
	typ  string
	name string
}

func NewRegistry() *Registry {
	return &Registry{
		targets:  make(map[targetKey]*Target),
		actors:   make(map[actorKey]*Actor),
		groups:   make(map[string]*Group),
		roles:    make(map[string]*Role),
		policies: make(map[string]*Policy),
	}
}

// --- Target ---

func (r *Registry) AddTarget(t *Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := targetKey{typ: Canonicalize(t.Type), name: Canonicalize(t.Name)}
	if _, exists := r.targets[k]; exists {
		return errAlreadyExists("AddTarget", "target already registered")
	}
	cp := cloneTarget(t)
	cp.Revision = 1
	r.targets[k] = cp
	return nil
}

func (r *Registry) ModifyTarget(t *Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := targetKey{typ: Canonicalize(t.Type), name: Canonicalize(t.Name)}
	old, exists := r.targets[k]
	if !exists {
		return errNotFound("ModifyTarget", "target not registered")
	}
	cp := cloneTarget(t)
	cp.Revision = old.Revision + 1
	r.targets[k] = cp
	return nil
}

func (r *Registry) RemoveTarget(typ, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := targetKey{typ: Canonicalize(typ), name: Canonicalize(name)}
	if _, exists := r.targets[k]; !exists {
		return errNotFound("RemoveTarget", "target not registered")
	}
	delete(r.targets, k)
	return nil
}

func (r *Registry) GetTarget(typ, name string) (*Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[targetKey{typ: Canonicalize(typ), name: Canonicalize(name)}]
	if !ok {
		return nil, false
	}
	return cloneTarget(t), true
}

// TargetFilter selects targets by optional name and/or type; zero value
// matches every target.
type TargetFilter struct {
	Name string
	Type string
}

func (r *Registry) ListTargets(f TargetFilter) []*Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, typ := Canonicalize(f.Name), Canonicalize(f.Type)
	out := make([]*Target, 0)
	for k, t := range r.targets {
		if name != "" && k.name != name {
			continue
		}
		if typ != "" && k.typ != typ {
			continue
		}
		out = append(out, cloneTarget(t))
	}
	return out
}

// --- Actor ---

func (r *Registry) AddActor(a *Actor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := actorKey{typ: Canonicalize(a.Type), name: Canonicalize(a.Name)}
	if _, exists := r.actors[k]; exists {
		return errAlreadyExists("AddActor", "actor already registered")
	}
	cp := cloneActor(a)
	cp.Revision = 1
	r.actors[k] = cp
	return nil
}

func (r *Registry) ModifyActor(a *Actor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := actorKey{typ: Canonicalize(a.Type), name: Canonicalize(a.Name)}
	old, exists := r.actors[k]
	if !exists {
		return errNotFound("ModifyActor", "actor not registered")
	}
	cp := cloneActor(a)
	cp.Revision = old.Revision + 1
	r.actors[k] = cp
	return nil
}

func (r *Registry) RemoveActor(typ, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := actorKey{typ: Canonicalize(typ), name: Canonicalize(name)}
	if _, exists := r.actors[k]; !exists {
		return errNotFound("RemoveActor", "actor not registered")
	}
	delete(r.actors, k)
	// Cascade: drop this actor from every group's membership.
	gm := GroupMember{Type: k.typ, Name: k.name}
	for _, g := range r.groups {
		delete(g.Members, gm)
	}
	return nil
}

func (r *Registry) GetActor(typ, name string) (*Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[actorKey{typ: Canonicalize(typ), name: Canonicalize(name)}]
	if !ok {
		return nil, false
	}
	return cloneActor(a), true
}

// ActorFilter selects actors by optional name and/or type.
type ActorFilter struct {
	Name string
	Type string
}

func (r *Registry) ListActors(f ActorFilter) []*Actor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, typ := Canonicalize(f.Name), Canonicalize(f.Type)
	out := make([]*Actor, 0)
	for k, a := range r.actors {
		if name != "" && k.name != name {
			continue
		}
		if typ != "" && k.typ != typ {
			continue
		}
		out = append(out, cloneActor(a))
	}
	return out
}

// --- Group ---

func (r *Registry) AddGroup(g *Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := Canonicalize(g.Name)
	if _, exists := r.groups[name]; exists {
		return errAlreadyExists("AddGroup", "group already registered")
	}
	for role := range g.Roles {
		if _, ok := r.roles[Canonicalize(role)]; !ok {
			return errReferenceMissing("AddGroup", "referenced role does not exist: "+role)
		}
	}
	cp := cloneGroup(g)
	cp.Revision = 1
	r.groups[name] = cp
	for role := range cp.Roles {
		r.roles[role].GrantedTo.Add(name)
	}
	return nil
}

func (r *Registry) ModifyGroup(g *Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := Canonicalize(g.Name)
	old, exists := r.groups[name]
	if !exists {
		return errNotFound("ModifyGroup", "group not registered")
	}
	for role := range g.Roles {
		if _, ok := r.roles[Canonicalize(role)]; !ok {
			return errReferenceMissing("ModifyGroup", "referenced role does not exist: "+role)
		}
	}
	cp := cloneGroup(g)
	cp.Revision = old.Revision + 1
	r.groups[name] = cp
	for role := range cp.Roles {
		if !old.Roles.Has(role) {
			r.roles[role].GrantedTo.Add(name)
		}
	}
	for role := range old.Roles {
		if !cp.Roles.Has(role) {
			if rl, ok := r.roles[role]; ok {
				rl.GrantedTo.Remove(name)
			}
		}
	}
	return nil
}

// RemoveGroup deletes a group and, per the paired granted_to/roles
// bookkeeping AddGroup/ModifyGroup/AddRole/ModifyRole maintain, drops it
// from every role's granted_to set.
func (r *Registry) RemoveGroup(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cname := Canonicalize(name)
	if _, exists := r.groups[cname]; !exists {
		return errNotFound("RemoveGroup", "group not registered")
	}
	delete(r.groups, cname)
	for _, role := range r.roles {
		role.GrantedTo.Remove(cname)
	}
	return nil
}

func (r *Registry) GetGroup(name string) (*Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[Canonicalize(name)]
	if !ok {
		return nil, false
	}
	return cloneGroup(g), true
}

// GroupFilter selects groups by optional name, a member they must contain,
// or a role they must be granted.
type GroupFilter struct {
	Name   string
	Member GroupMember
	Role   string
}

func (r *Registry) ListGroups(f GroupFilter) []*Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name := Canonicalize(f.Name)
	role := Canonicalize(f.Role)
	member := GroupMember{Type: Canonicalize(f.Member.Type), Name: Canonicalize(f.Member.Name)}
	hasMember := f.Member.Name != "" || f.Member.Type != ""
	out := make([]*Group, 0)
	for n, g := range r.groups {
		if name != "" && n != name {
			continue
		}
		if role != "" && !g.Roles.Has(role) {
			continue
		}
		if hasMember {
			if _, ok := g.Members[member]; !ok {
				continue
			}
		}
		out = append(out, cloneGroup(g))
	}
	return out
}

// groupsForActorLocked returns the canonical names of every group an actor
// belongs to. Caller must hold at least RLock.
func (r *Registry) groupsForActorLocked(actorType, actorName string) []string {
	m := GroupMember{Type: Canonicalize(actorType), Name: Canonicalize(actorName)}
	var names []string
	for name, g := range r.groups {
		if _, ok := g.Members[m]; ok {
			names = append(names, name)
		}
	}
	return names
}

// --- Role ---

func (r *Registry) AddRole(role *Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := Canonicalize(role.Name)
	if _, exists := r.roles[name]; exists {
		return errAlreadyExists("AddRole", "role already registered")
	}
	for group := range role.GrantedTo {
		if _, ok := r.groups[Canonicalize(group)]; !ok {
			return errReferenceMissing("AddRole", "referenced group does not exist: "+group)
		}
	}
	cp := cloneRole(role)
	cp.Revision = 1
	r.roles[name] = cp
	for group := range cp.GrantedTo {
		r.groups[group].Roles.Add(name)
	}
	return nil
}

func (r *Registry) ModifyRole(role *Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := Canonicalize(role.Name)
	old, exists := r.roles[name]
	if !exists {
		return errNotFound("ModifyRole", "role not registered")
	}
	for group := range role.GrantedTo {
		if _, ok := r.groups[Canonicalize(group)]; !ok {
			return errReferenceMissing("ModifyRole", "referenced group does not exist: "+group)
		}
	}
	cp := cloneRole(role)
	cp.Revision = old.Revision + 1
	r.roles[name] = cp
	for group := range cp.GrantedTo {
		if !old.GrantedTo.Has(group) {
			r.groups[group].Roles.Add(name)
		}
	}
	for group := range old.GrantedTo {
		if !cp.GrantedTo.Has(group) {
			if g, ok := r.groups[group]; ok {
				g.Roles.Remove(name)
			}
		}
	}
	return nil
}

// RemoveRole deletes a role and cascades the removal into every group that
// had it granted, mirroring RemoveActor's membership cascade. A role still
// referenced by a group is not an error: the reference is simply dropped.
func (r *Registry) RemoveRole(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cname := Canonicalize(name)
	role, exists := r.roles[cname]
	if !exists {
		return errNotFound("RemoveRole", "role not registered")
	}
	delete(r.roles, cname)
	for group := range role.GrantedTo {
		if g, ok := r.groups[group]; ok {
			g.Roles.Remove(cname)
		}
	}
	return nil
}

func (r *Registry) GetRole(name string) (*Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[Canonicalize(name)]
	if !ok {
		return nil, false
	}
	return cloneRole(role), true
}

// RoleFilter selects roles by optional name.
type RoleFilter struct {
	Name string
}

func (r *Registry) ListRoles(f RoleFilter) []*Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name := Canonicalize(f.Name)
	out := make([]*Role, 0)
	for n, role := range r.roles {
		if name != "" && n != name {
			continue
		}
		out = append(out, cloneRole(role))
	}
	return out
}

// --- Policy ---

func (r *Registry) AddPolicy(p *Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := Canonicalize(p.Name)
	if _, exists := r.policies[name]; exists {
		return errAlreadyExists("AddPolicy", "policy already registered")
	}
	cp := clonePolicy(p)
	cp.Revision = 1
	r.policies[name] = cp
	return nil
}

func (r *Registry) ModifyPolicy(p *Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := Canonicalize(p.Name)
	old, exists := r.policies[name]
	if !exists {
		return errNotFound("ModifyPolicy", "policy not registered")
	}
	cp := clonePolicy(p)
	cp.Revision = old.Revision + 1
	r.policies[name] = cp
	return nil
}

func (r *Registry) RemovePolicy(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cname := Canonicalize(name)
	if _, exists := r.policies[cname]; !exists {
		return errNotFound("RemovePolicy", "policy not registered")
	}
	delete(r.policies, cname)
	return nil
}

func (r *Registry) GetPolicy(name string) (*Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[Canonicalize(name)]
	if !ok {
		return nil, false
	}
	return clonePolicy(p), true
}

// PolicyFilter selects policies by name only, per the original
// implementation's GetPoliciesRequest.
type PolicyFilter struct {
	Name string
}

func (r *Registry) ListPolicies(f PolicyFilter) []*Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name := Canonicalize(f.Name)
	out := make([]*Policy, 0)
	for n, p := range r.policies {
		if name != "" && n != name {
			continue
		}
		out = append(out, clonePolicy(p))
	}
	return out
}

// Snapshot is an immutable point-in-time copy of the whole Registry,
// consumed by storage drivers for Load round-trips and by the CLI's
// stats/validate commands.
type Snapshot struct {
	Targets  []*Target
	Actors   []*Actor
	Groups   []*Group
	Roles    []*Role
	Policies []*Policy
}

func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := &Snapshot{}
	for _, t := range r.targets {
		s.Targets = append(s.Targets, cloneTarget(t))
	}
	for _, a := range r.actors {
		s.Actors = append(s.Actors, cloneActor(a))
	}
	for _, g := range r.groups {
		s.Groups = append(s.Groups, cloneGroup(g))
	}
	for _, role := range r.roles {
		s.Roles = append(s.Roles, cloneRole(role))
	}
	for _, p := range r.policies {
		s.Policies = append(s.Policies, clonePolicy(p))
	}
	return s
}

// Restore replaces the Registry's contents with a Snapshot, used when a
// storage driver loads on startup or applies a watched remote change.
func (r *Registry) Restore(s *Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = make(map[targetKey]*Target, len(s.Targets))
	for _, t := range s.Targets {
		r.targets[targetKey{typ: Canonicalize(t.Type), name: Canonicalize(t.Name)}] = cloneTarget(t)
	}
	r.actors = make(map[actorKey]*Actor, len(s.Actors))
	for _, a := range s.Actors {
		r.actors[actorKey{typ: Canonicalize(a.Type), name: Canonicalize(a.Name)}] = cloneActor(a)
	}
	r.groups = make(map[string]*Group, len(s.Groups))
	for _, g := range s.Groups {
		r.groups[Canonicalize(g.Name)] = cloneGroup(g)
	}
	r.roles = make(map[string]*Role, len(s.Roles))
	for _, role := range s.Roles {
		r.roles[Canonicalize(role.Name)] = cloneRole(role)
	}
	r.policies = make(map[string]*Policy, len(s.Policies))
	for _, p := range s.Policies {
		r.policies[Canonicalize(p.Name)] = clonePolicy(p)
	}
}

func cloneTarget(t *Target) *Target {
	cp := *t
	cp.Name = Canonicalize(t.Name)
	cp.Type = Canonicalize(t.Type)
	cp.Actions = NewStringSet()
	for a := range t.Actions {
		cp.Actions.Add(Canonicalize(a))
	}
	cp.Attributes = t.Attributes.Clone()
	return &cp
}

func cloneActor(a *Actor) *Actor {
	cp := *a
	cp.Name = Canonicalize(a.Name)
	cp.Type = Canonicalize(a.Type)
	cp.Attributes = a.Attributes.Clone()
	return &cp
}

func cloneGroup(g *Group) *Group {
	cp := *g
	cp.Name = Canonicalize(g.Name)
	cp.Members = make(map[GroupMember]struct{}, len(g.Members))
	for m := range g.Members {
		cp.Members[GroupMember{Type: Canonicalize(m.Type), Name: Canonicalize(m.Name)}] = struct{}{}
	}
	cp.Roles = g.Roles.Clone()
	return &cp
}

func cloneRole(role *Role) *Role {
	cp := *role
	cp.Name = Canonicalize(role.Name)
	cp.GrantedTo = role.GrantedTo.Clone()
	return &cp
}

// canonicalizeStringCheck returns a copy of c with every candidate value
// folded to canonical form, so a StringCheck compares like-for-like against
// the already-canonical values on an EvalContext (actor/target name, type,
// action).
func canonicalizeStringCheck(c *StringCheck) *StringCheck {
	if c == nil {
		return nil
	}
	canon := NewStringSet()
	for v := range c.Values {
		canon.Add(Canonicalize(v))
	}
	return &StringCheck{Op: c.Op, Values: canon}
}

func clonePolicy(p *Policy) *Policy {
	cp := *p
	cp.Name = Canonicalize(p.Name)
	if p.ActorCheck != nil {
		ac := *p.ActorCheck
		ac.Name = canonicalizeStringCheck(p.ActorCheck.Name)
		ac.Type = canonicalizeStringCheck(p.ActorCheck.Type)
		ac.Attributes = append([]KvCheck(nil), p.ActorCheck.Attributes...)
		cp.ActorCheck = &ac
	}
	if p.TargetCheck != nil {
		tc := *p.TargetCheck
		tc.Name = canonicalizeStringCheck(p.TargetCheck.Name)
		tc.Type = canonicalizeStringCheck(p.TargetCheck.Type)
		tc.Action = canonicalizeStringCheck(p.TargetCheck.Action)
		tc.Attributes = append([]KvCheck(nil), p.TargetCheck.Attributes...)
		tc.MatchInActor = append([]string(nil), p.TargetCheck.MatchInActor...)
		tc.MatchInEnv = append([]string(nil), p.TargetCheck.MatchInEnv...)
		cp.TargetCheck = &tc
	}
	cp.EnvChecks = append([]KvCheck(nil), p.EnvChecks...)
	return &cp
}
