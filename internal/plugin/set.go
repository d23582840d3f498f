package plugin

import "sync"

// Set is an ordered collection of plugins with reference identity.
// Adding a plugin that is already present is a no-op. Set is safe for
// concurrent use; readers always receive copies.
type Set struct {
	mu      sync.RWMutex
	plugins []Plugin
}

// NewSet creates a set holding the given plugins in order.
func NewSet(plugins ...Plugin) *Set {
	s := &Set{}
	for _, p := range plugins {
		s.Add(p)
	}
	return s
}

// Add appends p unless it is already present or fails CheckIdentity. It
// reports whether the set changed.
func (s *Set) Add(p Plugin) bool {
	if CheckIdentity(p) != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(p) >= 0 {
		return false
	}
	s.plugins = append(s.plugins, p)
	return true
}

// Has reports whether p is present.
func (s *Set) Has(p Plugin) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOf(p) >= 0
}

// HasClass reports whether an instance of class is present.
func (s *Set) HasClass(class Class) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOfClass(class) >= 0
}

// Detach removes p without destroying it. It reports whether p was present.
func (s *Set) Detach(p Plugin) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(p)
	if i < 0 {
		return false
	}
	s.plugins = append(s.plugins[:i:i], s.plugins[i+1:]...)
	return true
}

// Remove destroys and removes the first instance of class. It is a no-op
// returning false when no instance matches.
func (s *Set) Remove(class Class) bool {
	s.mu.Lock()
	i := s.indexOfClass(class)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	p := s.plugins[i]
	s.plugins = append(s.plugins[:i:i], s.plugins[i+1:]...)
	s.mu.Unlock()

	Destroy(p)
	return true
}

// GetAll returns a snapshot of the plugins in insertion order.
func (s *Set) GetAll() []Plugin {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Plugin, len(s.plugins))
	copy(out, s.plugins)
	return out
}

// Len returns the number of plugins.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.plugins)
}

// Drain empties the set and returns what it held, without destroying.
func (s *Set) Drain() []Plugin {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.plugins
	s.plugins = nil
	return out
}

// Clear destroys every plugin and empties the set.
func (s *Set) Clear() {
	for _, p := range s.Drain() {
		Destroy(p)
	}
}

func (s *Set) indexOf(p Plugin) int {
	for i, existing := range s.plugins {
		if Same(existing, p) {
			return i
		}
	}
	return -1
}

func (s *Set) indexOfClass(class Class) int {
	for i, existing := range s.plugins {
		if ClassOf(existing) == class {
			return i
		}
	}
	return -1
}
