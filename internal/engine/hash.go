package engine

import (
	"encoding/json"
	"hash/fnv"
	"sort"
)

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// hashJSON hashes the canonical JSON encoding of v (stable key order).
func hashJSON(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// Hash returns a change-detection fingerprint of the selection.
//
// For random-mode selections item order is irrelevant to the platform (it
// picks one at random from the set), so the items are sorted before hashing
// to avoid re-applying the same set in a different order.
func (s Selection) Hash() uint64 {
	c := s
	if s.Mode == ModeRandom && len(s.Items) > 1 {
		items := append([]ContentRef(nil), s.Items...)
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
		c.Items = items
	}
	return hashJSON(c)
}
