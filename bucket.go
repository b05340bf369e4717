package gatehouse

import "hash/fnv"

// Bucket derives a deterministic value in [0,99] from an actor's canonical
// identity, stable across processes and restarts. gatehouse has no
// MetroHash dependency available, so it substitutes FNV-1a over the same
// "{type}/{name}" string (see DESIGN.md, Open Question 5) — any stable hash
// works, since callers only rely on determinism, not on a specific
// algorithm.
func Bucket(actorType, actorName string) int {
	h := fnv.New64a()
	h.Write([]byte(Canonicalize(actorType)))
	h.Write([]byte("/"))
	h.Write([]byte(Canonicalize(actorName)))
	return int(h.Sum64() % 100)
}
