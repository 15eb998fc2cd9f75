package permissions

import (
	"cmp"
	"slices"
	"sync"
)

// Grant names who holds a permission: a peer (hex peer hash) running an
// application (api key).
type Grant struct {
	Peer   string `json:"peer"`
	AppKey string `json:"app_key"`
}

func compareGrant(a, b Grant) int {
	if c := cmp.Compare(a.Peer, b.Peer); c != 0 {
		return c
	}
	return cmp.Compare(a.AppKey, b.AppKey)
}

// Permission records every grant of one resource.
type Permission struct {
	Resource Resource `json:"resource"`
	Granted  []Grant  `json:"granted"`
}

// Table is an authority built from explicit grants. It never grants anything
// on its own: Decide is Granted only when a recorded grant for the same peer and
// application covers the requested resource. Safe for concurrent use.
type Table struct {
	mu     sync.RWMutex
	grants map[Resource]map[Grant]struct{}
}

func NewTable(perms ...Permission) *Table {
	t := &Table{grants: make(map[Resource]map[Grant]struct{})}
	for _, p := range perms {
		for _, g := range p.Granted {
			t.Grant(p.Resource, g.Peer, g.AppKey)
		}
	}
	return t
}

func (t *Table) Grant(resource Resource, peer, appKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.grants[resource]
	if !ok {
		set = make(map[Grant]struct{})
		t.grants[resource] = set
	}
	set[Grant{Peer: peer, AppKey: appKey}] = struct{}{}
}

// Revoke removes one grant. It reports whether the grant existed.
func (t *Table) Revoke(resource Resource, peer, appKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.grants[resource]
	if !ok {
		return false
	}
	g := Grant{Peer: peer, AppKey: appKey}
	if _, ok := set[g]; !ok {
		return false
	}
	delete(set, g)
	if len(set) == 0 {
		delete(t.grants, resource)
	}
	return true
}

func (t *Table) Decide(peer, appKey string, req ResourceRequest) RequestResult {
	g := Grant{Peer: peer, AppKey: appKey}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for resource, set := range t.grants {
		if _, ok := set[g]; ok && resource.Covers(req.Resource) {
			return Granted
		}
	}
	return Denied
}

// DecideAll decides every request and returns the resources that were denied.
func (t *Table) DecideAll(peer, appKey string, reqs []ResourceRequest) []Resource {
	var denied []Resource
	for _, req := range reqs {
		if t.Decide(peer, appKey, req) == Denied {
			denied = append(denied, req.Resource)
		}
	}
	return denied
}

// Permissions returns the table content sorted by resource, grants sorted by
// peer then application key.
func (t *Table) Permissions() []Permission {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Permission, 0, len(t.grants))
	for resource, set := range t.grants {
		p := Permission{Resource: resource, Granted: make([]Grant, 0, len(set))}
		for g := range set {
			p.Granted = append(p.Granted, g)
		}
		slices.SortFunc(p.Granted, compareGrant)
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Permission) int { return a.Resource.Compare(b.Resource) })
	return out
}
