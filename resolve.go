package gatehouse

// fold combines the running decision with one matched policy's decision.
// DENY is absorbing: once any matching policy says DENY, no later ALLOW
// can change the outcome. The function is commutative and associative, so
// the result of Resolve does not depend on the order policies are visited
// in (§8's order-independence property).
func fold(acc, next Decision) Decision {
	if acc == DecisionDeny || next == DecisionDeny {
		return DecisionDeny
	}
	if acc == DecisionAllow || next == DecisionAllow {
		return DecisionAllow
	}
	return DecisionImplicitDeny
}

// Resolve reduces the decisions of every matching policy into one final
// Decision: explicit DENY overrides ALLOW overrides implicit DENY.
func Resolve(matched []Decision) Decision {
	result := DecisionImplicitDeny
	for _, d := range matched {
		result = fold(result, d)
	}
	return result
}
