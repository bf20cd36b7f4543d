package registry

// keyedStore is an insertion-ordered map of contributions keyed by id.
// Overwriting an id keeps its original position.
type keyedStore[T any] struct {
	order []string
	items map[string]T
	owner func(T) string
}

func newKeyedStore[T any](owner func(T) string) *keyedStore[T] {
	return &keyedStore[T]{items: make(map[string]T), owner: owner}
}

// put stores v under id and returns the previous value, if any.
func (s *keyedStore[T]) put(id string, v T) (T, bool) {
	prev, exists := s.items[id]
	if !exists {
		s.order = append(s.order, id)
	}
	s.items[id] = v
	return prev, exists
}

func (s *keyedStore[T]) get(id string) (T, bool) {
	v, ok := s.items[id]
	return v, ok
}

func (s *keyedStore[T]) remove(id string) bool {
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	for i, k := range s.order {
		if k == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// removeOwned deletes every entry owned by pluginID and returns the removed ids.
func (s *keyedStore[T]) removeOwned(pluginID string) []string {
	var removed []string
	kept := s.order[:0]
	for _, id := range s.order {
		if s.owner(s.items[id]) == pluginID {
			delete(s.items, id)
			removed = append(removed, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}

func (s *keyedStore[T]) values() []T {
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

func (s *keyedStore[T]) len() int { return len(s.order) }

func (s *keyedStore[T]) reset() {
	s.order = nil
	s.items = make(map[string]T)
}

// listStore is an append-only list of contributions.
type listStore[T any] struct {
	items []T
	owner func(T) string
}

func newListStore[T any](owner func(T) string) *listStore[T] {
	return &listStore[T]{owner: owner}
}

func (s *listStore[T]) add(v T) { s.items = append(s.items, v) }

func (s *listStore[T]) removeOwned(pluginID string) int {
	kept := s.items[:0]
	n := 0
	for _, v := range s.items {
		if s.owner(v) == pluginID {
			n++
			continue
		}
		kept = append(kept, v)
	}
	// Clear the tail so removed entries can be collected.
	var zero T
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = zero
	}
	s.items = kept
	return n
}

func (s *listStore[T]) values() []T {
	return append([]T(nil), s.items...)
}

func (s *listStore[T]) len() int { return len(s.items) }

func (s *listStore[T]) reset() { s.items = nil }
