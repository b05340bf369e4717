package gatehouse

// EvalContext is the enriched, ephemeral state a single Check runs
// against: the merged actor attributes (registered + request, PEP wins on
// conflict), the derived member-of/has-role sets folded into those
// attributes, the environment attributes, the resolved target, and the
// requested action.
type EvalContext struct {
	ActorName       string
	ActorType       string
	ActorAttributes AttributeMap
	EnvAttributes   AttributeMap
	TargetName      string
	TargetType      string
	TargetAttrs     AttributeMap
	Action          string
}

// checkActor reports whether ac matches the context's actor. A nil
// ActorCheck on the policy matches any actor.
func checkActor(ac *ActorCheck, ctx *EvalContext) bool {
	if ac == nil {
		return true
	}
	if ac.Name != nil && !ac.Name.Check(ctx.ActorName) {
		return false
	}
	if ac.Type != nil && !ac.Type.Check(ctx.ActorType) {
		return false
	}
	for _, kv := range ac.Attributes {
		if !kv.Check(ctx.ActorAttributes) {
			return false
		}
	}
	if ac.Bucket != nil && !ac.Bucket.Check(int64(Bucket(ctx.ActorType, ctx.ActorName))) {
		return false
	}
	return true
}

// checkEnv ANDs every env attribute check against the context's
// environment attributes.
func checkEnv(checks []KvCheck, ctx *EvalContext) bool {
	for _, kv := range checks {
		if !kv.Check(ctx.EnvAttributes) {
			return false
		}
	}
	return true
}

// checkAttrMatch reports whether ours and theirs share at least one value
// at key. A key missing from either side fails the match.
func checkAttrMatch(key string, ours, theirs AttributeMap) bool {
	a, ok := ours[key]
	if !ok {
		return false
	}
	b, ok := theirs[key]
	if !ok {
		return false
	}
	return a.Intersects(b)
}

// checkTarget reports whether tc matches the context's target and action.
// A nil TargetCheck matches any target.
func checkTarget(tc *TargetCheck, ctx *EvalContext) bool {
	if tc == nil {
		return true
	}
	if tc.Name != nil && !tc.Name.Check(ctx.TargetName) {
		return false
	}
	if tc.Type != nil && !tc.Type.Check(ctx.TargetType) {
		return false
	}
	if tc.Action != nil && !tc.Action.Check(ctx.Action) {
		return false
	}
	for _, kv := range tc.Attributes {
		if !kv.Check(ctx.TargetAttrs) {
			return false
		}
	}
	for _, key := range tc.MatchInActor {
		if !checkAttrMatch(key, ctx.TargetAttrs, ctx.ActorAttributes) {
			return false
		}
	}
	for _, key := range tc.MatchInEnv {
		if !checkAttrMatch(key, ctx.TargetAttrs, ctx.EnvAttributes) {
			return false
		}
	}
	return true
}

// MatchRule reports whether rule applies to ctx: its actor check, all of
// its environment checks, and its target check must all pass.
func MatchRule(rule *Policy, ctx *EvalContext) bool {
	if !checkActor(rule.ActorCheck, ctx) {
		return false
	}
	if !checkEnv(rule.EnvChecks, ctx) {
		return false
	}
	if !checkTarget(rule.TargetCheck, ctx) {
		return false
	}
	return true
}
