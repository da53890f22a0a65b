package catalog

import "sync"

// lockTable tracks which (category, name) pairs are locked, and by what
// label (typically a human-readable reason such as "renaming table \"x\"").
// A global lock uses the zero itemKey. Locking is advisory: callers (the
// Alter Planner, primarily) consult GetLock before starting a rebuild and
// refuse to proceed if something else already holds it.
type lockTable struct {
	mu    sync.Mutex
	holds map[itemKey][]string
}

func newLockTable() *lockTable {
	return &lockTable{holds: map[itemKey][]string{}}
}

func (lt *lockTable) lock(category, name, label string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	k := keyOf(category, name)
	lt.holds[k] = append(lt.holds[k], label)
}

func (lt *lockTable) unlock(category, name, label string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	k := keyOf(category, name)
	labels := lt.holds[k]
	for i, l := range labels {
		if l == label {
			lt.holds[k] = append(labels[:i], labels[i+1:]...)
			break
		}
	}
	if len(lt.holds[k]) == 0 {
		delete(lt.holds, k)
	}
}

func (lt *lockTable) get(category, name string) (string, bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if labels, ok := lt.holds[keyOf(category, name)]; ok && len(labels) > 0 {
		return labels[len(labels)-1], true
	}
	if labels, ok := lt.holds[keyOf("", "")]; ok && len(labels) > 0 {
		return labels[len(labels)-1], true
	}
	return "", false
}

// Lock locks category/name under label, cascading to every item that is
// related by a data dependency: locking a table also locks the views
// (recursively) that select from it; locking a view also locks the tables
// and views it in turn selects from. The cascade mirrors GetRelated's
// data-dependency traversal so a rebuild can never proceed while something
// reachable from it is mid-flight elsewhere.
func (c *Catalog) Lock(category, name, label string) {
	c.locks.lock(category, name, label)
	for _, dep := range c.GetRelated(category, name, false, true) {
		c.locks.lock(dep.Category, dep.Name, label)
	}
}

// Unlock reverses a prior Lock call with the same label.
func (c *Catalog) Unlock(category, name, label string) {
	c.locks.unlock(category, name, label)
	for _, dep := range c.GetRelated(category, name, false, true) {
		c.locks.unlock(dep.Category, dep.Name, label)
	}
}

// GetLock reports the label currently holding a lock on category/name, if
// any (including a global lock held under the "" / "" key).
func (c *Catalog) GetLock(category, name string) (string, bool) {
	return c.locks.get(category, name)
}
