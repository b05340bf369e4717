package gatehouse

import "testing"

func TestCanonicalizeFoldsCaseAndTrims(t *testing.T) {
	cases := map[string]string{
		"Alice":     "alice",
		"  Bob  ":   "bob",
		"DB":        "db",
		"already-c": "already-c",
	}
	for in, want := range cases {
		if got := Canonicalize(in); got != want {
			t.Fatalf("Canonicalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStringCheckIsAndIsNot(t *testing.T) {
	c := StringCheck{Op: StringIs, Values: NewStringSet("read", "write")}
	if !c.Check("read") {
		t.Fatalf("expected IS to match a listed value")
	}
	if c.Check("delete") {
		t.Fatalf("expected IS to reject an unlisted value")
	}

	notC := StringCheck{Op: StringIsNot, Values: NewStringSet()}
	if !notC.Check("anything") {
		t.Fatalf("IS_NOT with empty values must be true (boundary behavior)")
	}
}

func TestKvCheckHasAndHasNot(t *testing.T) {
	attrs := AttributeMap{"env": NewStringSet("prod", "staging")}

	has := KvCheck{Key: "env", Op: KvHas, Values: NewStringSet("prod")}
	if !has.Check(attrs) {
		t.Fatalf("expected HAS to match an intersecting value")
	}

	hasNotMissing := KvCheck{Key: "team", Op: KvHasNot, Values: NewStringSet("eng")}
	if !hasNotMissing.Check(attrs) {
		t.Fatalf("HAS_NOT on a missing key must be true (boundary behavior)")
	}

	hasNotPresent := KvCheck{Key: "env", Op: KvHasNot, Values: NewStringSet("prod")}
	if hasNotPresent.Check(attrs) {
		t.Fatalf("expected HAS_NOT to fail when a candidate value is present")
	}
}

func TestNumberCheckOperators(t *testing.T) {
	if !(NumberCheck{Op: NumberLessThan, Val: 50}).Check(10) {
		t.Fatalf("expected 10 < 50")
	}
	if (NumberCheck{Op: NumberLessThan, Val: 50}).Check(50) {
		t.Fatalf("expected 50 not < 50")
	}
	if !(NumberCheck{Op: NumberMoreThan, Val: 50}).Check(51) {
		t.Fatalf("expected 51 > 50")
	}
	if !(NumberCheck{Op: NumberEquals, Val: 7}).Check(7) {
		t.Fatalf("expected 7 == 7")
	}
}

func TestAttributeMapMergePEPWins(t *testing.T) {
	requestSupplied := AttributeMap{"team": NewStringSet("payments")}
	stored := AttributeMap{"team": NewStringSet("platform"), "tier": NewStringSet("gold")}

	merged := requestSupplied.Merge(stored)

	if !merged["team"].Has("payments") || merged["team"].Has("platform") {
		t.Fatalf("expected PEP-supplied team to win over stored team, got %v", merged["team"].Slice())
	}
	if !merged["tier"].Has("gold") {
		t.Fatalf("expected stored-only key tier to survive the merge")
	}
}

func TestBucketStableAndInRange(t *testing.T) {
	b1 := Bucket("email", "alice")
	b2 := Bucket("EMAIL", "  Alice ")
	if b1 != b2 {
		t.Fatalf("bucket must be stable across casing/whitespace, got %d and %d", b1, b2)
	}
	if b1 < 0 || b1 > 99 {
		t.Fatalf("bucket must be in [0, 99], got %d", b1)
	}
}

func TestDecisionAllowed(t *testing.T) {
	if DecisionImplicitDeny.Allowed() {
		t.Fatalf("implicit deny must not be allowed")
	}
	if DecisionDeny.Allowed() {
		t.Fatalf("explicit deny must not be allowed")
	}
	if !DecisionAllow.Allowed() {
		t.Fatalf("allow must be allowed")
	}
}
