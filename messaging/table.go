package messaging

import "sync"

// requestTable maps correlation ids to outstanding requests. An entry is
// removed exactly once, by whoever claims it for termination.
type requestTable struct {
	mu       sync.Mutex
	requests map[string]*Request
	closed   bool
}

func newRequestTable() *requestTable {
	return &requestTable{
		requests: make(map[string]*Request),
	}
}

// insert fails once the table has been drained
func (t *requestTable) insert(r *Request) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	t.requests[r.id] = r
	return true
}

func (t *requestTable) lookup(id string) *Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests[id]
}

// claim removes and returns the entry for id
func (t *requestTable) claim(id string) *Request {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.requests[id]
	if !ok {
		return nil
	}
	delete(t.requests, id)
	return r
}

// drain closes the table and returns everything still pending
func (t *requestTable) drain() []*Request {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	pending := make([]*Request, 0, len(t.requests))
	for id, r := range t.requests {
		pending = append(pending, r)
		delete(t.requests, id)
	}
	return pending
}

func (t *requestTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}
