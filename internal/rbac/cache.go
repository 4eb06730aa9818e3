package rbac

import (
	"sort"
	"strconv"
	"sync"
)

// permissionSet is a loaded, possibly empty, grant set for one role.
type permissionSet map[string]struct{}

func newPermissionSet(codes []string) permissionSet {
	set := make(permissionSet, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return set
}

func (s permissionSet) has(code string) bool {
	_, ok := s[code]
	return ok
}

func (s permissionSet) codes() []string {
	out := make([]string, 0, len(s))
	for code := range s {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// generation identifies the cache state a load started from. A load whose
// generation is outdated by the time it finishes is discarded.
type generation struct {
	epoch uint64
	role  uint64
}

func (g generation) String() string {
	return strconv.FormatUint(g.epoch, 10) + "." + strconv.FormatUint(g.role, 10)
}

// Cache maps role codes to permission sets. An entry is either absent or
// present; present entries may be empty.
type Cache struct {
	mu          sync.RWMutex
	entries     map[string]permissionSet
	generations map[string]uint64
	epoch       uint64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries:     make(map[string]permissionSet),
		generations: make(map[string]uint64),
	}
}

func (c *Cache) lookup(roleCode string) (permissionSet, generation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.entries[roleCode]
	return set, generation{epoch: c.epoch, role: c.generations[roleCode]}, ok
}

func (c *Cache) store(roleCode string, gen generation, set permissionSet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != gen.epoch || c.generations[roleCode] != gen.role {
		return false
	}
	c.entries[roleCode] = set
	return true
}

// Invalidate drops one role's entry, or every entry when roleCode is empty.
func (c *Cache) Invalidate(roleCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if roleCode == "" {
		c.entries = make(map[string]permissionSet)
		c.epoch++
		return
	}
	delete(c.entries, roleCode)
	c.generations[roleCode]++
}

// Len returns the number of present entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
