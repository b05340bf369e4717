package gatehouse

import "testing"

func TestAddTargetDuplicateRejected(t *testing.T) {
	reg := NewRegistry()
	if err := reg.AddTarget(&Target{Name: "maindb", Type: "db"}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	err := reg.AddTarget(&Target{Name: "MainDB", Type: "DB"})
	if KindOf(err) != AlreadyExists {
		t.Fatalf("expected AlreadyExists for a duplicate under case folding, got %v", err)
	}
}

func TestModifyMissingTargetNotFound(t *testing.T) {
	reg := NewRegistry()
	err := reg.ModifyTarget(&Target{Name: "ghost", Type: "db"})
	if KindOf(err) != NotFound {
		t.Fatalf("expected NotFound modifying an unregistered target, got %v", err)
	}
}

func TestModifyTargetBumpsRevision(t *testing.T) {
	reg := NewRegistry()
	_ = reg.AddTarget(&Target{Name: "maindb", Type: "db"})
	if err := reg.ModifyTarget(&Target{Name: "maindb", Type: "db", Actions: NewStringSet("read")}); err != nil {
		t.Fatalf("ModifyTarget: %v", err)
	}
	got, _ := reg.GetTarget("db", "maindb")
	if got.Revision != 2 {
		t.Fatalf("expected revision 2 after one modify, got %d", got.Revision)
	}
}

func TestAddTargetCanonicalizesAndDedupesActions(t *testing.T) {
	reg := NewRegistry()
	if err := reg.AddTarget(&Target{Name: "maindb", Type: "db", Actions: NewStringSet("Read", "READ", "Write")}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	got, _ := reg.GetTarget("db", "maindb")
	if len(got.Actions) != 2 || !got.Actions.Has("read") || !got.Actions.Has("write") {
		t.Fatalf("expected actions to canonicalize and dedupe to {read, write}, got %v", got.Actions.Slice())
	}
}

func TestAddPolicyCanonicalizesStringChecks(t *testing.T) {
	reg := NewRegistry()
	err := reg.AddPolicy(&Policy{
		Name:       "p1",
		ActorCheck: &ActorCheck{Type: &StringCheck{Op: StringIs, Values: NewStringSet("Email")}},
		Decision:   DecisionAllow,
	})
	if err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}
	got, _ := reg.GetPolicy("p1")
	if !got.ActorCheck.Type.Values.Has("email") {
		t.Fatalf("expected ActorCheck.Type.Values to be canonicalized to {email}, got %v", got.ActorCheck.Type.Values.Slice())
	}
}

func TestRemoveActorCascadesOutOfGroups(t *testing.T) {
	reg := NewRegistry()
	_ = reg.AddActor(&Actor{Name: "alice", Type: "email"})
	_ = reg.AddGroup(&Group{Name: "g1", Members: map[GroupMember]struct{}{{Type: "email", Name: "alice"}: {}}, Roles: NewStringSet()})

	if err := reg.RemoveActor("email", "alice"); err != nil {
		t.Fatalf("RemoveActor: %v", err)
	}
	g, _ := reg.GetGroup("g1")
	if _, present := g.Members[GroupMember{Type: "email", Name: "alice"}]; present {
		t.Fatalf("expected alice to be cascaded out of g1's membership")
	}
}

func TestRemoveRoleCascadesOutOfGroups(t *testing.T) {
	reg := NewRegistry()
	_ = reg.AddRole(&Role{Name: "r1", GrantedTo: NewStringSet()})
	_ = reg.AddGroup(&Group{Name: "g1", Roles: NewStringSet("r1")})

	if err := reg.RemoveRole("r1"); err != nil {
		t.Fatalf("expected RemoveRole to succeed and cascade, got %v", err)
	}
	g, _ := reg.GetGroup("g1")
	if g.Roles.Has("r1") {
		t.Fatalf("expected r1 to be cascaded out of g1's roles")
	}
}

func TestRemoveGroupCascadesOutOfRoleGrants(t *testing.T) {
	reg := NewRegistry()
	_ = reg.AddRole(&Role{Name: "r1", GrantedTo: NewStringSet()})
	_ = reg.AddGroup(&Group{Name: "g1", Roles: NewStringSet("r1")})

	role, _ := reg.GetRole("r1")
	if !role.GrantedTo.Has("g1") {
		t.Fatalf("expected AddGroup to have synced r1's granted_to with g1")
	}

	if err := reg.RemoveGroup("g1"); err != nil {
		t.Fatalf("RemoveGroup: %v", err)
	}
	role, _ = reg.GetRole("r1")
	if role.GrantedTo.Has("g1") {
		t.Fatalf("expected g1 to be cascaded out of r1's granted_to")
	}
}

func TestModifyRoleGrantedToSyncsGroupRoles(t *testing.T) {
	reg := NewRegistry()
	_ = reg.AddGroup(&Group{Name: "g1", Roles: NewStringSet()})
	_ = reg.AddRole(&Role{Name: "r1", GrantedTo: NewStringSet()})

	if err := reg.ModifyRole(&Role{Name: "r1", GrantedTo: NewStringSet("g1")}); err != nil {
		t.Fatalf("ModifyRole: %v", err)
	}
	g, _ := reg.GetGroup("g1")
	if !g.Roles.Has("r1") {
		t.Fatalf("expected granting r1 to g1 to be reflected in g1's roles")
	}

	if err := reg.ModifyRole(&Role{Name: "r1", GrantedTo: NewStringSet()}); err != nil {
		t.Fatalf("ModifyRole: %v", err)
	}
	g, _ = reg.GetGroup("g1")
	if g.Roles.Has("r1") {
		t.Fatalf("expected revoking r1 from g1 to be reflected in g1's roles")
	}
}

func TestAddGroupRejectsUnknownRole(t *testing.T) {
	reg := NewRegistry()
	err := reg.AddGroup(&Group{Name: "g1", Roles: NewStringSet("nosuch")})
	if KindOf(err) != ReferenceMissing {
		t.Fatalf("expected ReferenceMissing adding a group with an unknown role, got %v", err)
	}
	if _, ok := reg.GetGroup("g1"); ok {
		t.Fatalf("group must not be created when its role reference is missing")
	}
}

func TestListTargetsFiltersByTypeAndName(t *testing.T) {
	reg := NewRegistry()
	_ = reg.AddTarget(&Target{Name: "maindb", Type: "db"})
	_ = reg.AddTarget(&Target{Name: "replica", Type: "db"})
	_ = reg.AddTarget(&Target{Name: "queue", Type: "mq"})

	dbs := reg.ListTargets(TargetFilter{Type: "db"})
	if len(dbs) != 2 {
		t.Fatalf("expected 2 db targets, got %d", len(dbs))
	}
	named := reg.ListTargets(TargetFilter{Name: "queue"})
	if len(named) != 1 || named[0].Type != "mq" {
		t.Fatalf("expected exactly the queue target, got %+v", named)
	}
}

func TestSnapshotRestoreRoundTrips(t *testing.T) {
	reg := NewRegistry()
	_ = reg.AddActor(&Actor{Name: "alice", Type: "email", Attributes: AttributeMap{"team": NewStringSet("payments")}})
	_ = reg.AddTarget(&Target{Name: "maindb", Type: "db"})
	_ = reg.AddRole(&Role{Name: "r1", GrantedTo: NewStringSet()})
	_ = reg.AddGroup(&Group{Name: "g1", Roles: NewStringSet("r1")})
	_ = reg.AddPolicy(&Policy{Name: "p1", Decision: DecisionAllow})

	snap := reg.Snapshot()

	fresh := NewRegistry()
	fresh.Restore(snap)

	a, ok := fresh.GetActor("email", "alice")
	if !ok || !a.Attributes["team"].Has("payments") {
		t.Fatalf("expected actor alice with its attributes to survive a snapshot/restore round trip")
	}
	if _, ok := fresh.GetTarget("db", "maindb"); !ok {
		t.Fatalf("expected target maindb to survive a snapshot/restore round trip")
	}
	if _, ok := fresh.GetRole("r1"); !ok {
		t.Fatalf("expected role r1 to survive a snapshot/restore round trip")
	}
	if _, ok := fresh.GetGroup("g1"); !ok {
		t.Fatalf("expected group g1 to survive a snapshot/restore round trip")
	}
	if _, ok := fresh.GetPolicy("p1"); !ok {
		t.Fatalf("expected policy p1 to survive a snapshot/restore round trip")
	}
}
