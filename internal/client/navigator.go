package client

import "sync"

// Navigator records where the browser should go next. The HTTP layer takes
// the pending path and answers with a redirect.
type Navigator struct {
	mu      sync.Mutex
	pending string
}

// Push records path as the next destination. A later push replaces an
// earlier one.
func (n *Navigator) Push(path string) {
	n.mu.Lock()
	n.pending = path
	n.mu.Unlock()
}

// Take returns and clears the pending destination
func (n *Navigator) Take() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	path := n.pending
	n.pending = ""
	return path, path != ""
}
