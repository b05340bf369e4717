package gatehouse

import "github.com/oarkflow/gatehouse/storage"

// This file converts between the root package's entity/check types and
// the storage package's serialization-friendly mirrors. Kept separate
// from engine.go and registry.go so the conversion boilerplate doesn't
// crowd out the logic that actually matters in those files.

func toStorageAttrs(a AttributeMap) map[string][]string {
	if len(a) == 0 {
		return nil
	}
	out := make(map[string][]string, len(a))
	for k, v := range a {
		out[k] = v.Slice()
	}
	return out
}

func fromStorageAttrs(a map[string][]string) AttributeMap {
	out := AttributeMap{}
	for k, v := range a {
		out[k] = NewStringSet(v...)
	}
	return out
}

func toStorageTarget(t *Target) *storage.Target {
	return &storage.Target{
		Name:       t.Name,
		Type:       t.Type,
		Actions:    t.Actions.Slice(),
		Attributes: toStorageAttrs(t.Attributes),
		Revision:   t.Revision,
	}
}

func fromStorageTarget(t *storage.Target) *Target {
	return &Target{
		Name:       t.Name,
		Type:       t.Type,
		Actions:    NewStringSet(t.Actions...),
		Attributes: fromStorageAttrs(t.Attributes),
		Revision:   t.Revision,
	}
}

func toStorageActor(a *Actor) *storage.Actor {
	return &storage.Actor{
		Name:       a.Name,
		Type:       a.Type,
		Attributes: toStorageAttrs(a.Attributes),
		Revision:   a.Revision,
	}
}

func fromStorageActor(a *storage.Actor) *Actor {
	return &Actor{
		Name:       a.Name,
		Type:       a.Type,
		Attributes: fromStorageAttrs(a.Attributes),
		Revision:   a.Revision,
	}
}

func toStorageGroup(g *Group) *storage.Group {
	members := make([]storage.GroupMember, 0, len(g.Members))
	for m := range g.Members {
		members = append(members, storage.GroupMember{Name: m.Name, Type: m.Type})
	}
	return &storage.Group{
		Name:        g.Name,
		Description: g.Description,
		Members:     members,
		Roles:       g.Roles.Slice(),
		Revision:    g.Revision,
	}
}

func fromStorageGroup(g *storage.Group) *Group {
	members := make(map[GroupMember]struct{}, len(g.Members))
	for _, m := range g.Members {
		members[GroupMember{Name: m.Name, Type: m.Type}] = struct{}{}
	}
	return &Group{
		Name:        g.Name,
		Description: g.Description,
		Members:     members,
		Roles:       NewStringSet(g.Roles...),
		Revision:    g.Revision,
	}
}

func toStorageRole(r *Role) *storage.Role {
	return &storage.Role{
		Name:        r.Name,
		Description: r.Description,
		GrantedTo:   r.GrantedTo.Slice(),
		Revision:    r.Revision,
	}
}

func fromStorageRole(r *storage.Role) *Role {
	return &Role{
		Name:        r.Name,
		Description: r.Description,
		GrantedTo:   NewStringSet(r.GrantedTo...),
		Revision:    r.Revision,
	}
}

func stringOpName(op StringOp) string {
	if op == StringIsNot {
		return "is_not"
	}
	return "is"
}

func stringOpFromName(s string) StringOp {
	if s == "is_not" {
		return StringIsNot
	}
	return StringIs
}

func kvOpName(op KvOp) string {
	if op == KvHasNot {
		return "has_not"
	}
	return "has"
}

func kvOpFromName(s string) KvOp {
	if s == "has_not" {
		return KvHasNot
	}
	return KvHas
}

func numberOpName(op NumberOp) string {
	switch op {
	case NumberLessThan:
		return "less_than"
	case NumberMoreThan:
		return "more_than"
	default:
		return "equals"
	}
}

func numberOpFromName(s string) NumberOp {
	switch s {
	case "less_than":
		return NumberLessThan
	case "more_than":
		return NumberMoreThan
	default:
		return NumberEquals
	}
}

func toStorageStringCheck(c *StringCheck) *storage.StringCheck {
	if c == nil {
		return nil
	}
	return &storage.StringCheck{Op: stringOpName(c.Op), Values: c.Values.Slice()}
}

func fromStorageStringCheck(c *storage.StringCheck) *StringCheck {
	if c == nil {
		return nil
	}
	return &StringCheck{Op: stringOpFromName(c.Op), Values: NewStringSet(c.Values...)}
}

func toStorageKvChecks(cs []KvCheck) []storage.KvCheck {
	if len(cs) == 0 {
		return nil
	}
	out := make([]storage.KvCheck, len(cs))
	for i, c := range cs {
		out[i] = storage.KvCheck{Key: c.Key, Op: kvOpName(c.Op), Values: c.Values.Slice()}
	}
	return out
}

func fromStorageKvChecks(cs []storage.KvCheck) []KvCheck {
	if len(cs) == 0 {
		return nil
	}
	out := make([]KvCheck, len(cs))
	for i, c := range cs {
		out[i] = KvCheck{Key: c.Key, Op: kvOpFromName(c.Op), Values: NewStringSet(c.Values...)}
	}
	return out
}

func toStorageNumberCheck(c *NumberCheck) *storage.NumberCheck {
	if c == nil {
		return nil
	}
	return &storage.NumberCheck{Op: numberOpName(c.Op), Val: c.Val}
}

func fromStorageNumberCheck(c *storage.NumberCheck) *NumberCheck {
	if c == nil {
		return nil
	}
	return &NumberCheck{Op: numberOpFromName(c.Op), Val: c.Val}
}

func toStorageActorCheck(c *ActorCheck) *storage.ActorCheck {
	if c == nil {
		return nil
	}
	return &storage.ActorCheck{
		Name:       toStorageStringCheck(c.Name),
		Type:       toStorageStringCheck(c.Type),
		Attributes: toStorageKvChecks(c.Attributes),
		Bucket:     toStorageNumberCheck(c.Bucket),
	}
}

func fromStorageActorCheck(c *storage.ActorCheck) *ActorCheck {
	if c == nil {
		return nil
	}
	return &ActorCheck{
		Name:       fromStorageStringCheck(c.Name),
		Type:       fromStorageStringCheck(c.Type),
		Attributes: fromStorageKvChecks(c.Attributes),
		Bucket:     fromStorageNumberCheck(c.Bucket),
	}
}

func toStorageTargetCheck(c *TargetCheck) *storage.TargetCheck {
	if c == nil {
		return nil
	}
	return &storage.TargetCheck{
		Name:         toStorageStringCheck(c.Name),
		Type:         toStorageStringCheck(c.Type),
		Action:       toStorageStringCheck(c.Action),
		Attributes:   toStorageKvChecks(c.Attributes),
		MatchInActor: append([]string(nil), c.MatchInActor...),
		MatchInEnv:   append([]string(nil), c.MatchInEnv...),
	}
}

func fromStorageTargetCheck(c *storage.TargetCheck) *TargetCheck {
	if c == nil {
		return nil
	}
	return &TargetCheck{
		Name:         fromStorageStringCheck(c.Name),
		Type:         fromStorageStringCheck(c.Type),
		Action:       fromStorageStringCheck(c.Action),
		Attributes:   fromStorageKvChecks(c.Attributes),
		MatchInActor: append([]string(nil), c.MatchInActor...),
		MatchInEnv:   append([]string(nil), c.MatchInEnv...),
	}
}

func toStoragePolicy(p *Policy) *storage.Policy {
	return &storage.Policy{
		Name:        p.Name,
		Description: p.Description,
		ActorCheck:  toStorageActorCheck(p.ActorCheck),
		EnvChecks:   toStorageKvChecks(p.EnvChecks),
		TargetCheck: toStorageTargetCheck(p.TargetCheck),
		Decision:    p.Decision.String(),
		Revision:    p.Revision,
	}
}

func fromStoragePolicy(p *storage.Policy) *Policy {
	d := DecisionImplicitDeny
	if p.Decision == "ALLOW" {
		d = DecisionAllow
	} else if p.Decision == "DENY" {
		d = DecisionDeny
	}
	return &Policy{
		Name:        p.Name,
		Description: p.Description,
		ActorCheck:  fromStorageActorCheck(p.ActorCheck),
		EnvChecks:   fromStorageKvChecks(p.EnvChecks),
		TargetCheck: fromStorageTargetCheck(p.TargetCheck),
		Decision:    d,
		Revision:    p.Revision,
	}
}

func toStorageSnapshot(s *Snapshot) *storage.Snapshot {
	out := &storage.Snapshot{}
	for _, t := range s.Targets {
		out.Targets = append(out.Targets, *toStorageTarget(t))
	}
	for _, a := range s.Actors {
		out.Actors = append(out.Actors, *toStorageActor(a))
	}
	for _, g := range s.Groups {
		out.Groups = append(out.Groups, *toStorageGroup(g))
	}
	for _, r := range s.Roles {
		out.Roles = append(out.Roles, *toStorageRole(r))
	}
	for _, p := range s.Policies {
		out.Policies = append(out.Policies, *toStoragePolicy(p))
	}
	return out
}

func fromStorageSnapshot(s *storage.Snapshot) *Snapshot {
	out := &Snapshot{}
	for i := range s.Targets {
		out.Targets = append(out.Targets, fromStorageTarget(&s.Targets[i]))
	}
	for i := range s.Actors {
		out.Actors = append(out.Actors, fromStorageActor(&s.Actors[i]))
	}
	for i := range s.Groups {
		out.Groups = append(out.Groups, fromStorageGroup(&s.Groups[i]))
	}
	for i := range s.Roles {
		out.Roles = append(out.Roles, fromStorageRole(&s.Roles[i]))
	}
	for i := range s.Policies {
		out.Policies = append(out.Policies, fromStoragePolicy(&s.Policies[i]))
	}
	return out
}

// applyStorageChange applies one watched remote Change directly to the
// Registry, bypassing persist (the change already happened in storage).
func applyStorageChange(r *Registry, change storage.Change) error {
	switch change.Kind {
	case storage.KindTarget:
		if change.Op == storage.OpDelete {
			return r.RemoveTarget(change.Key.Type, change.Key.Name)
		}
		t := fromStorageTarget(change.Target)
		if _, ok := r.GetTarget(t.Type, t.Name); ok {
			return r.ModifyTarget(t)
		}
		return r.AddTarget(t)
	case storage.KindActor:
		if change.Op == storage.OpDelete {
			return r.RemoveActor(change.Key.Type, change.Key.Name)
		}
		a := fromStorageActor(change.Actor)
		if _, ok := r.GetActor(a.Type, a.Name); ok {
			return r.ModifyActor(a)
		}
		return r.AddActor(a)
	case storage.KindGroup:
		if change.Op == storage.OpDelete {
			return r.RemoveGroup(change.Key.Name)
		}
		g := fromStorageGroup(change.Group)
		if _, ok := r.GetGroup(g.Name); ok {
			return r.ModifyGroup(g)
		}
		return r.AddGroup(g)
	case storage.KindRole:
		if change.Op == storage.OpDelete {
			return r.RemoveRole(change.Key.Name)
		}
		role := fromStorageRole(change.Role)
		if _, ok := r.GetRole(role.Name); ok {
			return r.ModifyRole(role)
		}
		return r.AddRole(role)
	case storage.KindPolicy:
		if change.Op == storage.OpDelete {
			return r.RemovePolicy(change.Key.Name)
		}
		p := fromStoragePolicy(change.Policy)
		if _, ok := r.GetPolicy(p.Name); ok {
			return r.ModifyPolicy(p)
		}
		return r.AddPolicy(p)
	default:
		return errInvalidArgument("applyStorageChange", "unknown change kind")
	}
}
