package gatehouse

import (
	"strings"
	"testing"

	"github.com/oarkflow/gatehouse/storage"
)

func TestConfigApplyToTwoPassBreaksRoleGroupCycle(t *testing.T) {
	cfg := &Config{
		Roles: []storage.Role{
			{Name: "reader", GrantedTo: []string{"g1"}},
		},
		Groups: []storage.Group{
			{Name: "g1", Roles: []string{"reader"}},
		},
	}

	reg := NewRegistry()
	if err := cfg.ApplyTo(reg); err != nil {
		t.Fatalf("ApplyTo should resolve the mutual role/group reference, got: %v", err)
	}

	role, ok := reg.GetRole("reader")
	if !ok || !role.GrantedTo.Has("g1") {
		t.Fatalf("expected role reader to end up granted to g1, got %+v", role)
	}
	group, ok := reg.GetGroup("g1")
	if !ok || !group.Roles.Has("reader") {
		t.Fatalf("expected group g1 to end up with role reader, got %+v", group)
	}
}

func TestConfigFromRegistryRoundTrips(t *testing.T) {
	reg := NewRegistry()
	_ = reg.AddTarget(&Target{Name: "maindb", Type: "db"})
	_ = reg.AddActor(&Actor{Name: "alice", Type: "email"})
	_ = reg.AddPolicy(&Policy{Name: "p1", Decision: DecisionAllow})

	cfg := ConfigFromRegistry(reg)
	if len(cfg.Targets) != 1 || len(cfg.Actors) != 1 || len(cfg.Policies) != 1 {
		t.Fatalf("expected one of each entity kind, got %+v", cfg)
	}

	fresh := NewRegistry()
	if err := cfg.ApplyTo(fresh); err != nil {
		t.Fatalf("ApplyTo of a round-tripped config: %v", err)
	}
	if _, ok := fresh.GetTarget("db", "maindb"); !ok {
		t.Fatalf("expected maindb to survive the round trip")
	}
}

func TestConfigToYAMLContainsPolicyName(t *testing.T) {
	cfg := &Config{
		Policies: []storage.Policy{{Name: "p1", Decision: "ALLOW"}},
	}
	b, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("ToYAML: %v", err)
	}
	if !strings.Contains(string(b), "p1") {
		t.Fatalf("expected marshaled YAML to contain the policy name, got %s", b)
	}
}

func TestConfigToJSONContainsPolicyName(t *testing.T) {
	cfg := &Config{
		Policies: []storage.Policy{{Name: "p1", Decision: "ALLOW"}},
	}
	b, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if !strings.Contains(string(b), "\"p1\"") {
		t.Fatalf("expected marshaled JSON to contain the policy name, got %s", b)
	}
}
