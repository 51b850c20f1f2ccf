package filesystem

import (
	"bytes"
	"sync"
)

const (
	// contextMarker trails the context when read directly through [ContextFilePath].
	contextMarker = "zeub"

	// contextCutset is stripped from both ends of every appended line.
	contextCutset = " \t\r\n"
)

// ContextStore is the ordered, append-only sequence of context lines.
// It is safe for concurrent use, appends are serialized against readers.
type ContextStore struct {
	mu    sync.RWMutex
	lines [][]byte
}

// NewContextStore returns a pointer to a new, empty [ContextStore].
func NewContextStore() *ContextStore {
	return &ContextStore{
		lines: make([][]byte, 0),
	}
}

// Append splits data on newlines and appends every piece that is
// not empty after trimming. It returns the amount of lines added.
func (s *ContextStore) Append(data []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0

	for piece := range bytes.SplitSeq(data, []byte("\n")) {
		line := bytes.Trim(piece, contextCutset)
		if len(line) == 0 {
			continue
		}

		s.lines = append(s.lines, bytes.Clone(line))
		added++
	}

	return added
}

// Len returns the amount of lines in the store.
func (s *ContextStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.lines)
}

// Lines returns a copy of the lines in insertion order.
func (s *ContextStore) Lines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.lines))
	for i, l := range s.lines {
		out[i] = string(l)
	}

	return out
}

// Prefix returns the lines joined by newlines, with a trailing newline
// when non-empty. This is what gets prepended onto every wrapped file.
func (s *ContextStore) Prefix() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.lines) == 0 {
		return []byte{}
	}

	out := bytes.Join(s.lines, []byte("\n"))

	return append(out, '\n')
}

// Content returns the lines joined by newlines, followed by the
// [contextMarker] on its own line when non-empty. This is what a
// direct read of the context file returns.
func (s *ContextStore) Content() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.lines) == 0 {
		return []byte{}
	}

	out := bytes.Join(s.lines, []byte("\n"))
	out = append(out, '\n')
	out = append(out, contextMarker...)

	return append(out, '\n')
}
