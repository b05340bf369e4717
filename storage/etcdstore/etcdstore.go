// Package etcdstore is a storage.Driver backed by etcd, for running
// gatehouse with several readers sharing one writable policy/entity set.
// Keys are laid out one prefix per entity kind under the base prefix
// "/gatehouse". The client is go.etcd.io/etcd/client/v3.
package etcdstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oarkflow/gatehouse/storage"
	clientv3 "go.etcd.io/etcd/client/v3"
	"gopkg.in/yaml.v3"
)

const (
	segTargets  = "targets"
	segActors   = "actors"
	segGroups   = "groups"
	segRoles    = "roles"
	segPolicies = "policies"
)

func init() {
	storage.Register("etcd", func(value string) (storage.Driver, error) {
		return Open(value)
	})
}

// Store is a storage.Driver connected to one etcd cluster.
type Store struct {
	client *clientv3.Client
	prefix string
}

// Open dials the etcd endpoints encoded in url (comma-separated) and
// returns a Store keyed under the default "/gatehouse" prefix.
func Open(url string) (*Store, error) {
	endpoints := strings.Split(url, ",")
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("gatehouse etcdstore: dialing %v: %w", endpoints, err)
	}
	return &Store{client: cli, prefix: "/gatehouse"}, nil
}

func (s *Store) key(seg, name string) string {
	return s.prefix + "/" + seg + "/" + name
}

func (s *Store) keyPrefix(seg string) string {
	return s.prefix + "/" + seg + "/"
}

// targetActorKey embeds the type in the key so a prefix get on one type
// does not require a separate index.
func targetActorKey(typ, name string) string {
	return typ + "/" + name
}

// Load fetches every key under the base prefix, one kind at a time, and
// decodes it into a Snapshot.
func (s *Store) Load(ctx context.Context) (*storage.Snapshot, error) {
	snap := &storage.Snapshot{}

	if err := s.loadSeg(ctx, segTargets, func(b []byte) error {
		var t storage.Target
		if err := yaml.Unmarshal(b, &t); err != nil {
			return err
		}
		snap.Targets = append(snap.Targets, t)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.loadSeg(ctx, segActors, func(b []byte) error {
		var a storage.Actor
		if err := yaml.Unmarshal(b, &a); err != nil {
			return err
		}
		snap.Actors = append(snap.Actors, a)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.loadSeg(ctx, segGroups, func(b []byte) error {
		var g storage.Group
		if err := yaml.Unmarshal(b, &g); err != nil {
			return err
		}
		snap.Groups = append(snap.Groups, g)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.loadSeg(ctx, segRoles, func(b []byte) error {
		var r storage.Role
		if err := yaml.Unmarshal(b, &r); err != nil {
			return err
		}
		snap.Roles = append(snap.Roles, r)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.loadSeg(ctx, segPolicies, func(b []byte) error {
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

func (s *Store) loadSeg(ctx context.Context, seg string, decode func([]byte) error) error {
	resp, err := s.client.Get(ctx, s.keyPrefix(seg), clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("gatehouse etcdstore: listing %s: %w", seg, err)
	}
	for _, kv := range resp.Kvs {
		_ = decode(kv.Value)
	}
	return nil
}

// Apply issues a Put or Delete for the changed entity.
func (s *Store) Apply(ctx context.Context, change storage.Change) error {
	switch change.Kind {
	case storage.KindTarget:
		if change.Op == storage.OpDelete {
			_, err := s.client.Delete(ctx, s.key(segTargets, targetActorKey(change.Key.Type, change.Key.Name)))
			return wrapEtcdErr("delete target", err)
		}
		return s.put(ctx, segTargets, targetActorKey(change.Target.Type, change.Target.Name), change.Target)
	case storage.KindActor:
		if change.Op == storage.OpDelete {
			_, err := s.client.Delete(ctx, s.key(segActors, targetActorKey(change.Key.Type, change.Key.Name)))
			return wrapEtcdErr("delete actor", err)
		}
		return s.put(ctx, segActors, targetActorKey(change.Actor.Type, change.Actor.Name), change.Actor)
	case storage.KindGroup:
		if change.Op == storage.OpDelete {
			_, err := s.client.Delete(ctx, s.key(segGroups, change.Key.Name))
			return wrapEtcdErr("delete group", err)
		}
		return s.put(ctx, segGroups, change.Group.Name, change.Group)
	case storage.KindRole:
		if change.Op == storage.OpDelete {
			_, err := s.client.Delete(ctx, s.key(segRoles, change.Key.Name))
			return wrapEtcdErr("delete role", err)
		}
		return s.put(ctx, segRoles, change.Role.Name, change.Role)
	case storage.KindPolicy:
		if change.Op == storage.OpDelete {
			_, err := s.client.Delete(ctx, s.key(segPolicies, change.Key.Name))
			return wrapEtcdErr("delete policy", err)
		}
		return s.put(ctx, segPolicies, change.Policy.Name, change.Policy)
	default:
		return fmt.Errorf("gatehouse etcdstore: unknown change kind %v", change.Kind)
	}
}

func (s *Store) put(ctx context.Context, seg, name string, value any) error {
	b, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("gatehouse etcdstore: marshaling %s/%s: %w", seg, name, err)
	}
	_, err = s.client.Put(ctx, s.key(seg, name), string(b))
	return wrapEtcdErr("put "+seg, err)
}

func wrapEtcdErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("gatehouse etcdstore: %s: %w", op, err)
}

// Watch subscribes to every kind's prefix and converts etcd events to
// Change values. Conflict resolution against a concurrent local Apply is
// last-write-wins by ModRevision: a watch event always reflects etcd's
// most recently accepted write, so applying it to the Registry in arrival
// order already gives last-write-wins with no extra bookkeeping.
func (s *Store) Watch(ctx context.Context) (<-chan storage.Change, error) {
	out := make(chan storage.Change, 64)
	segments := []struct {
		seg  string
		kind storage.Kind
	}{
		{segTargets, storage.KindTarget},
		{segActors, storage.KindActor},
		{segGroups, storage.KindGroup},
		{segRoles, storage.KindRole},
		{segPolicies, storage.KindPolicy},
	}
	for _, seg := range segments {
		wch := s.client.Watch(ctx, s.keyPrefix(seg.seg), clientv3.WithPrefix())
		go func(seg string, kind storage.Kind, wch clientv3.WatchChan) {
			for resp := range wch {
				for _, ev := range resp.Events {
					c, err := s.toChange(kind, ev)
					if err != nil {
						continue
					}
					select {
					case out <- c:
					case <-ctx.Done():
						return
					}
				}
			}
		}(seg.seg, seg.kind, wch)
	}
	return out, nil
}

func (s *Store) toChange(kind storage.Kind, ev *clientv3.Event) (storage.Change, error) {
	keyParts := strings.SplitN(strings.TrimPrefix(string(ev.Kv.Key), s.prefix+"/"), "/", 2)
	var entityKey string
	if len(keyParts) == 2 {
		entityKey = keyParts[1]
	}

	if ev.Type == clientv3.EventTypeDelete {
		typ, name := splitTargetActorKey(entityKey)
		return storage.Change{Kind: kind, Op: storage.OpDelete, Key: storage.Identity{Type: typ, Name: name}}, nil
	}

	change := storage.Change{Kind: kind, Op: storage.OpPut, Revision: uint64(ev.Kv.ModRevision)}
	switch kind {
	case storage.KindTarget:
		var t storage.Target
		if err := yaml.Unmarshal(ev.Kv.Value, &t); err != nil {
			return storage.Change{}, err
		}
		change.Target = &t
	case storage.KindActor:
		var a storage.Actor
		if err := yaml.Unmarshal(ev.Kv.Value, &a); err != nil {
			return storage.Change{}, err
		}
		change.Actor = &a
	case storage.KindGroup:
		var g storage.Group
		if err := yaml.Unmarshal(ev.Kv.Value, &g); err != nil {
			return storage.Change{}, err
		}
		change.Group = &g
	case storage.KindRole:
		var r storage.Role
		if err := yaml.Unmarshal(ev.Kv.Value, &r); err != nil {
			return storage.Change{}, err
		}
		change.Role = &r
	case storage.KindPolicy:
		var p storage.Policy
		if err := yaml.Unmarshal(ev.Kv.Value, &p); err != nil {
			return storage.Change{}, err
		}
		change.Policy = &p
	}
	return change, nil
}

func splitTargetActorKey(k string) (typ, name string) {
	parts := strings.SplitN(k, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", k
}

// Close shuts down the underlying etcd client, which in turn cancels
// every Watch goroutine's receive on its WatchChan.
func (s *Store) Close() error {
	return s.client.Close()
}
