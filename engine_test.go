package gatehouse

import (
	"context"
	"testing"

	"github.com/oarkflow/gatehouse/storage/filestore"
)

func TestEngineWithoutDriverIsPureInMemory(t *testing.T) {
	ctx := context.Background()
	eng, err := NewEngine(ctx)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Close()

	if err := eng.AddPolicy(ctx, &Policy{Name: "p1", Decision: DecisionAllow}); err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}
	result, err := eng.Check(ctx, CheckRequest{ActorName: "u", TargetName: "t", TargetType: "t", Action: "read"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Allowed() {
		t.Fatalf("expected ALLOW, got %v", result.Decision)
	}
}

func TestEnginePersistsThroughFilestoreAndReloads(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := filestore.Open(dir)
	if err != nil {
		t.Fatalf("filestore.Open: %v", err)
	}
	eng, err := NewEngine(ctx, WithDriver(store))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if err := eng.AddTarget(ctx, &Target{Name: "maindb", Type: "db"}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if err := eng.AddActor(ctx, &Actor{Name: "alice", Type: "email"}); err != nil {
		t.Fatalf("AddActor: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store2, err := filestore.Open(dir)
	if err != nil {
		t.Fatalf("filestore.Open (reload): %v", err)
	}
	reloaded, err := NewEngine(ctx, WithDriver(store2))
	if err != nil {
		t.Fatalf("NewEngine (reload): %v", err)
	}
	defer reloaded.Close()

	if _, ok := reloaded.GetTarget("db", "maindb"); !ok {
		t.Fatalf("expected maindb to survive a persist/reload cycle through filestore")
	}
	if _, ok := reloaded.GetActor("email", "alice"); !ok {
		t.Fatalf("expected alice to survive a persist/reload cycle through filestore")
	}
}

func TestEngineModifyGroupIncrementalEdits(t *testing.T) {
	ctx := context.Background()
	eng, err := NewEngine(ctx)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Close()

	if err := eng.AddGroup(ctx, &Group{Name: "g1", Roles: NewStringSet()}); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	if err := eng.ModifyGroup(ctx, ModifyGroupRequest{
		Name:       "g1",
		AddMembers: []GroupMember{{Type: "email", Name: "alice"}},
	}); err != nil {
		t.Fatalf("ModifyGroup add: %v", err)
	}

	g, ok := eng.GetGroup("g1")
	if !ok {
		t.Fatalf("expected g1 to exist")
	}
	if _, present := g.Members[GroupMember{Type: "email", Name: "alice"}]; !present {
		t.Fatalf("expected alice to have been added to g1")
	}

	if err := eng.ModifyGroup(ctx, ModifyGroupRequest{
		Name:          "g1",
		RemoveMembers: []GroupMember{{Type: "email", Name: "alice"}},
	}); err != nil {
		t.Fatalf("ModifyGroup remove: %v", err)
	}
	g, _ = eng.GetGroup("g1")
	if _, present := g.Members[GroupMember{Type: "email", Name: "alice"}]; present {
		t.Fatalf("expected alice to have been removed from g1")
	}
}

func TestEngineModifyTargetIncrementalEdits(t *testing.T) {
	ctx := context.Background()
	eng, err := NewEngine(ctx)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Close()

	if err := eng.AddTarget(ctx, &Target{
		Name:       "maindb",
		Type:       "db",
		Actions:    NewStringSet("read"),
		Attributes: AttributeMap{"env": NewStringSet("prod")},
	}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	if err := eng.ModifyTarget(ctx, ModifyTargetRequest{
		Type:          "db",
		Name:          "maindb",
		AddActions:    []string{"WRITE"},
		AddAttributes: AttributeEdit{"env": {"staging"}, "region": {"us"}},
	}); err != nil {
		t.Fatalf("ModifyTarget add: %v", err)
	}

	target, ok := eng.GetTarget("db", "maindb")
	if !ok {
		t.Fatalf("expected maindb to exist")
	}
	if !target.Actions.Has("read") || !target.Actions.Has("write") {
		t.Fatalf("expected read and write actions, got %v", target.Actions.Slice())
	}
	if !target.Attributes["env"].Has("prod") || !target.Attributes["env"].Has("staging") {
		t.Fatalf("expected env to retain prod and gain staging, got %v", target.Attributes["env"].Slice())
	}
	if !target.Attributes["region"].Has("us") {
		t.Fatalf("expected region attribute to have been added")
	}

	if err := eng.ModifyTarget(ctx, ModifyTargetRequest{
		Type:             "db",
		Name:             "maindb",
		RemoveActions:    []string{"read"},
		RemoveAttributes: AttributeEdit{"env": {"prod", "staging"}, "missing": {"anything"}},
	}); err != nil {
		t.Fatalf("ModifyTarget remove: %v", err)
	}

	target, _ = eng.GetTarget("db", "maindb")
	if target.Actions.Has("read") || !target.Actions.Has("write") {
		t.Fatalf("expected only write action to remain, got %v", target.Actions.Slice())
	}
	if _, present := target.Attributes["env"]; present {
		t.Fatalf("expected env key to have been removed once its last value was removed")
	}
}

func TestEngineModifyActorIncrementalEdits(t *testing.T) {
	ctx := context.Background()
	eng, err := NewEngine(ctx)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Close()

	if err := eng.AddActor(ctx, &Actor{Name: "alice", Type: "email"}); err != nil {
		t.Fatalf("AddActor: %v", err)
	}

	if err := eng.ModifyActor(ctx, ModifyActorRequest{
		Type:          "email",
		Name:          "alice",
		AddAttributes: AttributeEdit{"department": {"eng"}},
	}); err != nil {
		t.Fatalf("ModifyActor add: %v", err)
	}
	actor, ok := eng.GetActor("email", "alice")
	if !ok {
		t.Fatalf("expected alice to exist")
	}
	if !actor.Attributes["department"].Has("eng") {
		t.Fatalf("expected department attribute to have been added")
	}

	if err := eng.ModifyActor(ctx, ModifyActorRequest{
		Type:             "email",
		Name:             "alice",
		RemoveAttributes: AttributeEdit{"department": {"eng"}},
	}); err != nil {
		t.Fatalf("ModifyActor remove: %v", err)
	}
	actor, _ = eng.GetActor("email", "alice")
	if _, present := actor.Attributes["department"]; present {
		t.Fatalf("expected department key to have been removed once its last value was removed")
	}
}

func TestEngineModifyRoleIncrementalEdits(t *testing.T) {
	ctx := context.Background()
	eng, err := NewEngine(ctx)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Close()

	if err := eng.AddGroup(ctx, &Group{Name: "eng", Roles: NewStringSet()}); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	if err := eng.AddRole(ctx, &Role{Name: "admin", GrantedTo: NewStringSet()}); err != nil {
		t.Fatalf("AddRole: %v", err)
	}

	if err := eng.ModifyRole(ctx, ModifyRoleRequest{
		Name:         "admin",
		AddGrantedTo: []string{"eng"},
	}); err != nil {
		t.Fatalf("ModifyRole add: %v", err)
	}
	role, ok := eng.GetRole("admin")
	if !ok {
		t.Fatalf("expected admin role to exist")
	}
	if !role.GrantedTo.Has("eng") {
		t.Fatalf("expected admin to be granted to eng")
	}

	if err := eng.ModifyRole(ctx, ModifyRoleRequest{
		Name:            "admin",
		RemoveGrantedTo: []string{"eng"},
	}); err != nil {
		t.Fatalf("ModifyRole remove: %v", err)
	}
	role, _ = eng.GetRole("admin")
	if role.GrantedTo.Has("eng") {
		t.Fatalf("expected eng to have been revoked from admin")
	}

	if err := eng.ModifyRole(ctx, ModifyRoleRequest{
		Name:         "admin",
		AddGrantedTo: []string{"ghost-group"},
	}); err == nil {
		t.Fatalf("expected ModifyRole to reject a granted_to group that doesn't exist")
	}
}
