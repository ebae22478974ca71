// Package nav tracks the current folder and back-navigation history.
package nav

import "sync"

// Location identifies one position in the hierarchy. An empty FolderID
// is the root.
type Location struct {
	FolderID string
	Path     string
}

// Root is the top of the hierarchy.
var Root = Location{Path: "/"}

// IsRoot reports whether the location is the root folder.
func (l Location) IsRoot() bool {
	return l.FolderID == ""
}

// Stack is the navigation state machine: a current location plus a
// history of prior locations for back-navigation.
//
// History entries are pushed only on forward navigation, popped only on
// Back, and cleared only on GoToRoot. Intermediate breadcrumb segments
// are display-only: apart from root, only the folders actually entered
// carry an identity, so a path segment in the middle of the breadcrumb
// cannot be navigated to directly.
type Stack struct {
	mu      sync.Mutex
	current Location
	history []Location
}

// New creates a stack positioned at the root.
func New() *Stack {
	return &Stack{current: Root}
}

// Current returns the current location.
func (s *Stack) Current() Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Depth returns the number of history entries.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Enter pushes the current location onto the history and moves into
// the given folder.
func (s *Stack) Enter(folder Location) Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, s.current)
	s.current = folder
	return s.current
}

// Back pops the most recent history entry and returns to it. With no
// history it falls back to the root.
func (s *Stack) Back() Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.history); n > 0 {
		s.current = s.history[n-1]
		s.history = s.history[:n-1]
	} else {
		s.current = Root
	}
	return s.current
}

// GoToRoot returns to the root and clears the history entirely.
// Forward history is not preserved past a root reset.
func (s *Stack) GoToRoot() Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = Root
	s.history = nil
	return s.current
}
