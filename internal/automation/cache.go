package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheUsers bounds how many users' rule sets are cached.
const DefaultCacheUsers = 1024

// RuleCache holds each user's active rules, most confident first. Entries are
// loaded from the store on miss and dropped on rule create, update or toggle.
type RuleCache struct {
	store RuleStore
	cache *lru.Cache[string, []Rule]

	// gen counts invalidations per user. A load that started before an
	// Invalidate is returned but not cached.
	loadMu sync.Mutex
	gen    map[string]uint64
}

// NewRuleCache creates a cache bounded to size users.
func NewRuleCache(store RuleStore, size int) (*RuleCache, error) {
	if store == nil {
		return nil, fmt.Errorf("rule store cannot be nil")
	}
	if size <= 0 {
		size = DefaultCacheUsers
	}
	c, err := lru.New[string, []Rule](size)
	if err != nil {
		return nil, fmt.Errorf("creating rule cache: %w", err)
	}
	return &RuleCache{store: store, cache: c, gen: make(map[string]uint64)}, nil
}

// Active returns a copy of the user's active rules.
func (c *RuleCache) Active(ctx context.Context, userID string) ([]Rule, error) {
	if rules, ok := c.cache.Get(userID); ok {
		RuleCacheLookups.WithLabelValues("hit").Inc()
		return cloneRules(rules), nil
	}
	RuleCacheLookups.WithLabelValues("miss").Inc()

	c.loadMu.Lock()
	gen := c.gen[userID]
	c.loadMu.Unlock()

	rules, err := c.store.ListRules(ctx, userID, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("loading rules for %s: %w", userID, err)
	}
	sortByConfidence(rules)

	c.loadMu.Lock()
	if c.gen[userID] == gen {
		c.cache.Add(userID, rules)
	}
	c.loadMu.Unlock()
	return cloneRules(rules), nil
}

// Invalidate drops the user's entry. The next Active call reloads it.
func (c *RuleCache) Invalidate(userID string) {
	c.loadMu.Lock()
	c.gen[userID]++
	c.cache.Remove(userID)
	c.loadMu.Unlock()
}

// Update replaces one rule in a cached entry, if the entry is present. A rule
// that is no longer active is removed from the entry.
func (c *RuleCache) Update(r Rule) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	rules, ok := c.cache.Peek(r.UserID)
	if !ok {
		return
	}
	next := make([]Rule, 0, len(rules)+1)
	found := false
	for _, existing := range rules {
		if existing.ID == r.ID {
			found = true
			if r.Status == StatusActive {
				next = append(next, r)
			}
			continue
		}
		next = append(next, existing)
	}
	if !found && r.Status == StatusActive {
		next = append(next, r)
	}
	sortByConfidence(next)
	c.cache.Add(r.UserID, next)
}

// Len returns the number of cached users.
func (c *RuleCache) Len() int {
	return c.cache.Len()
}

func sortByConfidence(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Confidence != rules[j].Confidence {
			return rules[i].Confidence > rules[j].Confidence
		}
		return rules[i].ID < rules[j].ID
	})
}

func cloneRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}
