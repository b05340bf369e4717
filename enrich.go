package gatehouse

import "strconv"

const (
	attrMemberOf = "member-of"
	attrHasRole  = "has-role"
	attrBucket   = "bucket"
)

// CheckRequest is the input to Check: the asserted actor, the environment
// attributes supplied by the caller, and the target/action being tested.
// It has no wire framing — transports build one of these from whatever
// they parse off the network.
type CheckRequest struct {
	ActorName       string
	ActorType       string
	ActorAttributes AttributeMap
	EnvAttributes   AttributeMap
	TargetName      string
	TargetType      string
	Action          string
}

// CheckResult is Check's output.
type CheckResult struct {
	Decision Decision
}

func (r CheckResult) Allowed() bool {
	return r.Decision.Allowed()
}

// enrich builds the EvalContext for req: it merges the request's actor
// attributes with the registered actor's (request wins on key conflict,
// see DESIGN.md Open Question 1), expands one level of group membership
// into member-of and has-role attributes, derives the actor's bucket, and
// resolves the target. An unregistered actor or target is legal and
// yields empty attributes and no known actions rather than an error.
func (r *Registry) enrich(req CheckRequest) *EvalContext {
	actorType := Canonicalize(req.ActorType)
	actorName := Canonicalize(req.ActorName)

	registered := AttributeMap{}
	if a, ok := r.actors[actorKey{typ: actorType, name: actorName}]; ok {
		registered = a.Attributes
	}

	reqAttrs := req.ActorAttributes
	if reqAttrs == nil {
		reqAttrs = AttributeMap{}
	}
	merged := reqAttrs.Merge(registered)

	groups := r.groupsForActorLocked(actorType, actorName)
	if len(groups) > 0 {
		memberOf := NewStringSet(groups...)
		merged[attrMemberOf] = mergeIntoExisting(merged[attrMemberOf], memberOf)

		roles := NewStringSet()
		for _, gname := range groups {
			if g, ok := r.groups[gname]; ok {
				for role := range g.Roles {
					roles.Add(role)
				}
			}
		}
		if len(roles) > 0 {
			merged[attrHasRole] = mergeIntoExisting(merged[attrHasRole], roles)
		}
	}

	bucket := Bucket(actorType, actorName)
	merged[attrBucket] = mergeIntoExisting(merged[attrBucket], NewStringSet(strconv.Itoa(bucket)))

	targetType := Canonicalize(req.TargetType)
	targetName := Canonicalize(req.TargetName)
	targetAttrs := AttributeMap{}
	if t, ok := r.targets[targetKey{typ: targetType, name: targetName}]; ok {
		targetAttrs = t.Attributes
	}

	envAttrs := req.EnvAttributes
	if envAttrs == nil {
		envAttrs = AttributeMap{}
	}

	return &EvalContext{
		ActorName:       actorName,
		ActorType:       actorType,
		ActorAttributes: merged,
		EnvAttributes:   envAttrs,
		TargetName:      targetName,
		TargetType:      targetType,
		TargetAttrs:     targetAttrs,
		Action:          Canonicalize(req.Action),
	}
}

// mergeIntoExisting unions a derived attribute's values with whatever the
// caller already supplied at that key, rather than overwriting it — the
// derived member-of/has-role/bucket values are additive context, not
// subject to the PEP-wins rule (there is nothing for a caller to
// legitimately override here).
func mergeIntoExisting(existing, derived StringSet) StringSet {
	if existing == nil {
		return derived
	}
	out := existing.Clone()
	for v := range derived {
		out.Add(v)
	}
	return out
}

// Check evaluates req against every registered policy and returns the
// resolved decision. It performs no I/O and does not suspend: the
// enrichment, matching and resolution steps all run under the Registry's
// read lock.
func (r *Registry) Check(req CheckRequest) CheckResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctx := r.enrich(req)

	decisions := make([]Decision, 0, len(r.policies))
	for _, p := range r.policies {
		if MatchRule(p, ctx) {
			decisions = append(decisions, p.Decision)
		}
	}
	return CheckResult{Decision: Resolve(decisions)}
}
