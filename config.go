package gatehouse

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/oarkflow/gatehouse/storage"
	"gopkg.in/yaml.v3"
)

// Config is a bootstrap/seed document for a Registry: everything needed
// to populate one from a flat file before the Engine starts serving
// checks. It mirrors the storage package's wire shape directly, since both
// exist to get entities in and out of the process without going through
// the Engine's validating Add* calls one at a time.
type Config struct {
	Targets  []storage.Target `yaml:"targets,omitempty" json:"targets,omitempty"`
	Actors   []storage.Actor  `yaml:"actors,omitempty" json:"actors,omitempty"`
	Groups   []storage.Group  `yaml:"groups,omitempty" json:"groups,omitempty"`
	Roles    []storage.Role   `yaml:"roles,omitempty" json:"roles,omitempty"`
	Policies []storage.Policy `yaml:"policies,omitempty" json:"policies,omitempty"`
}

// ConfigLoader reads Config documents off disk. It is a thin struct
// rather than a package of free functions so tests can point it at a
// fixture directory without touching the working directory.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, newErr(Internal, "LoadYAML", "reading "+path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errInvalidArgument("LoadYAML", fmt.Sprintf("decoding %s: %v", path, err))
	}
	return &cfg, nil
}

func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func (l *ConfigLoader) LoadJSON(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, newErr(Internal, "LoadJSON", "reading "+path, err)
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, errInvalidArgument("LoadJSON", fmt.Sprintf("decoding %s: %v", path, err))
	}
	return &cfg, nil
}

func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ApplyTo loads every entity in c into reg via its Add* methods. Roles
// and groups reference each other (a group's Roles and a role's
// GrantedTo), so a single pass in either order would fail referential
// integrity on whichever comes second; ApplyTo adds roles bare (no
// GrantedTo) and groups in full, then re-applies the roles with their
// real GrantedTo once every group name it references exists.
func (c *Config) ApplyTo(reg *Registry) error {
	for i := range c.Targets {
		t := fromStorageTarget(&c.Targets[i])
		if err := reg.AddTarget(t); err != nil {
			return err
		}
	}
	for i := range c.Actors {
		a := fromStorageActor(&c.Actors[i])
		if err := reg.AddActor(a); err != nil {
			return err
		}
	}
	for i := range c.Roles {
		bare := &Role{Name: c.Roles[i].Name, Description: c.Roles[i].Description, GrantedTo: NewStringSet()}
		if err := reg.AddRole(bare); err != nil {
			return err
		}
	}
	for i := range c.Groups {
		g := fromStorageGroup(&c.Groups[i])
		if err := reg.AddGroup(g); err != nil {
			return err
		}
	}
	for i := range c.Roles {
		role := fromStorageRole(&c.Roles[i])
		if err := reg.ModifyRole(role); err != nil {
			return err
		}
	}
	for i := range c.Policies {
		p := fromStoragePolicy(&c.Policies[i])
		if err := reg.AddPolicy(p); err != nil {
			return err
		}
	}
	return nil
}

// ConfigFromRegistry builds a Config from a Registry's current Snapshot,
// the inverse of ApplyTo.
func ConfigFromRegistry(reg *Registry) *Config {
	snap := toStorageSnapshot(reg.Snapshot())
	return &Config{
		Targets:  snap.Targets,
		Actors:   snap.Actors,
		Groups:   snap.Groups,
		Roles:    snap.Roles,
		Policies: snap.Policies,
	}
}

// OpenStorage parses the GATESTORAGE environment variable ("file:{path}",
// default "file:/tmp/gatehouse" if unset, or "etcd:{url}") and returns the
// corresponding driver. Backend packages must be imported (even if only
// for their side-effecting init) for their scheme to be available; see
// storage.Register.
func OpenStorage() (storage.Driver, error) {
	spec := os.Getenv("GATESTORAGE")
	if spec == "" {
		spec = "file:/tmp/gatehouse"
	}
	return storage.Open(spec)
}
