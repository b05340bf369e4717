// Package filestore is a single-node storage.Driver backed by one YAML
// file per entity, grouped into one directory per entity kind, using
// yaml.v3 for marshaling. Each entity is written atomically via a
// temp-file-then-rename so partial corruption of one kind cannot prevent
// loading the others.
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/gatehouse/storage"
	"gopkg.in/yaml.v3"
)

const (
	dirTargets  = "targets"
	dirActors   = "actors"
	dirGroups   = "groups"
	dirRoles    = "roles"
	dirPolicies = "policies"
)

func init() {
	storage.Register("file", func(value string) (storage.Driver, error) {
		return Open(value)
	})
}

// Store is a storage.Driver rooted at a single base directory.
type Store struct {
	base string
}

// Open returns a Store rooted at base, creating the per-kind
// subdirectories if they don't already exist.
func Open(base string) (*Store, error) {
	if base == "" {
		base = "/tmp/gatehouse"
	}
	for _, dir := range []string{dirTargets, dirActors, dirGroups, dirRoles, dirPolicies} {
		if err := os.MkdirAll(filepath.Join(base, dir), 0o755); err != nil {
			return nil, fmt.Errorf("gatehouse filestore: creating %s: %w", dir, err)
		}
	}
	return &Store{base: base}, nil
}

// Load walks every per-kind directory and decodes every file it finds
// into a Snapshot. A single unreadable or malformed file is skipped with
// no effect on the rest of that kind's files, let alone the other kinds'.
func (s *Store) Load(ctx context.Context) (*storage.Snapshot, error) {
	snap := &storage.Snapshot{}

	if err := loadDir(filepath.Join(s.base, dirTargets), func(b []byte) error {
		var t storage.Target
		if err := yaml.Unmarshal(b, &t); err != nil {
			return err
		}
		snap.Targets = append(snap.Targets, t)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := loadDir(filepath.Join(s.base, dirActors), func(b []byte) error {
		var a storage.Actor
		if err := yaml.Unmarshal(b, &a); err != nil {
			return err
		}
		snap.Actors = append(snap.Actors, a)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := loadDir(filepath.Join(s.base, dirGroups), func(b []byte) error {
		var g storage.Group
		if err := yaml.Unmarshal(b, &g); err != nil {
			return err
		}
		snap.Groups = append(snap.Groups, g)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := loadDir(filepath.Join(s.base, dirRoles), func(b []byte) error {
		var r storage.Role
		if err := yaml.Unmarshal(b, &r); err != nil {
			return err
		}
		snap.Roles = append(snap.Roles, r)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := loadDir(filepath.Join(s.base, dirPolicies), func(b []byte) error {
		var p storage.Policy
		if err := yaml.Unmarshal(b, &p); err != nil {
			return err
		}
		snap.Policies = append(snap.Policies, p)
		return nil
	}); err != nil {
		return nil, err
	}

	return snap, nil
}

func loadDir(dir string, decode func([]byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("gatehouse filestore: reading %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		_ = decode(b)
	}
	return nil
}

// Apply writes or removes one entity's file, atomically for writes via a
// temp file in the same directory followed by os.Rename (atomic on POSIX
// filesystems).
func (s *Store) Apply(ctx context.Context, change storage.Change) error {
	switch change.Kind {
	case storage.KindTarget:
		if change.Op == storage.OpDelete {
			return s.remove(dirTargets, change.Key.Type+"-"+change.Key.Name)
		}
		return s.write(dirTargets, change.Target.Type+"-"+change.Target.Name, change.Target)
	case storage.KindActor:
		if change.Op == storage.OpDelete {
			return s.remove(dirActors, change.Key.Type+"-"+change.Key.Name)
		}
		return s.write(dirActors, change.Actor.Type+"-"+change.Actor.Name, change.Actor)
	case storage.KindGroup:
		if change.Op == storage.OpDelete {
			return s.remove(dirGroups, change.Key.Name)
		}
		return s.write(dirGroups, change.Group.Name, change.Group)
	case storage.KindRole:
		if change.Op == storage.OpDelete {
			return s.remove(dirRoles, change.Key.Name)
		}
		return s.write(dirRoles, change.Role.Name, change.Role)
	case storage.KindPolicy:
		if change.Op == storage.OpDelete {
			return s.remove(dirPolicies, change.Key.Name)
		}
		return s.write(dirPolicies, change.Policy.Name, change.Policy)
	default:
		return fmt.Errorf("gatehouse filestore: unknown change kind %v", change.Kind)
	}
}

func (s *Store) remove(dir, name string) error {
	path := filepath.Join(s.base, dir, name+".yaml")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("gatehouse filestore: removing %s: %w", path, err)
	}
	return nil
}

func (s *Store) write(dir, name string, value any) error {
	path := filepath.Join(s.base, dir, name+".yaml")
	b, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("gatehouse filestore: marshaling %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("gatehouse filestore: creating temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("gatehouse filestore: writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("gatehouse filestore: closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("gatehouse filestore: renaming into %s: %w", path, err)
	}
	return nil
}

// Watch returns a closed channel: a single-node filestore has no remote
// writers to watch for.
func (s *Store) Watch(ctx context.Context) (<-chan storage.Change, error) {
	ch := make(chan storage.Change)
	close(ch)
	return ch, nil
}

// Close is a no-op; Store holds no open resources between calls.
func (s *Store) Close() error {
	return nil
}
