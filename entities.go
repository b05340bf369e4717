package gatehouse

// Target is an object an actor wants to act on, identified by its canonical
// (type, name) pair. Actions are the verbs defined for it; attributes feed
// TargetCheck matching.
type Target struct {
	Name       string
	Type       string
	Actions    StringSet
	Attributes AttributeMap
	Revision   uint64
}

// Actor is a principal, identified by its canonical (type, name) pair.
// Unregistered actors are legal: Check treats them as having empty
// attributes rather than rejecting the request.
type Actor struct {
	Name       string
	Type       string
	Attributes AttributeMap
	Revision   uint64
}

// GroupMember identifies an actor by its canonical (type, name) pair
// without embedding the actor's own attributes.
type GroupMember struct {
	Name string
	Type string
}

// Group is a named collection of actors and the roles granted to its
// members. Role names referenced here must already exist in the Registry.
type Group struct {
	Name        string
	Description string
	Members     map[GroupMember]struct{}
	Roles       StringSet
	Revision    uint64
}

// Role is a named permission grouping granted to zero or more groups.
// GrantedTo holds group names, not embedded Group values, so adding or
// removing the grant never requires copying group state.
type Role struct {
	Name        string
	Description string
	GrantedTo   StringSet
	Revision    uint64
}

// Policy is one rule in the evaluation set. ActorCheck and TargetCheck are
// optional (nil means "matches any actor" / "matches any target");
// EnvChecks is ANDed against the request's environment attributes.
type Policy struct {
	Name        string
	Description string
	ActorCheck  *ActorCheck
	EnvChecks   []KvCheck
	TargetCheck *TargetCheck
	Decision    Decision
	Revision    uint64
}

// ActorCheck matches a request's actor against a name/type filter, a set
// of attribute checks, and an optional bucket check, all ANDed. A nil
// field means "no constraint on that dimension". Bucket is what makes
// feature-flag-style percentage rollouts possible: a policy with only a
// Bucket check and no Name/Type/Attributes applies to a stable, randomly
// selected slice of all actors.
type ActorCheck struct {
	Name       *StringCheck
	Type       *StringCheck
	Attributes []KvCheck
	Bucket     *NumberCheck
}

// TargetCheck matches a request's target against name/type/action filters,
// attribute checks, and cross-checks against the actor's and environment's
// attributes (MatchInActor / MatchInEnv: for each listed key, the target
// must share at least one value at that key with the actor or environment
// attribute map respectively).
type TargetCheck struct {
	Name         *StringCheck
	Type         *StringCheck
	Action       *StringCheck
	Attributes   []KvCheck
	MatchInActor []string
	MatchInEnv   []string
}
