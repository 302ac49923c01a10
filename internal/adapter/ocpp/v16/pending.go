package v16

import (
	"encoding/json"
	"sync"
)

// callOutcome is the result of one outbound Call: either the CallResult
// payload or a CallError from the station.
type callOutcome struct {
	payload json.RawMessage
	errCode string
	errDesc string
}

// pendingCalls correlates outbound Calls with their replies by UniqueId.
// A waiter that times out removes itself; a reply arriving after that is
// discarded by the caller of resolve.
type pendingCalls struct {
	mu      sync.Mutex
	waiters map[string]chan callOutcome
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{waiters: make(map[string]chan callOutcome)}
}

func (p *pendingCalls) register(uniqueID string) chan callOutcome {
	ch := make(chan callOutcome, 1)
	p.mu.Lock()
	p.waiters[uniqueID] = ch
	p.mu.Unlock()
	return ch
}

// resolve delivers the outcome to the waiter. Returns false when no waiter
// exists, which means the reply was late or unsolicited.
func (p *pendingCalls) resolve(uniqueID string, outcome callOutcome) bool {
	p.mu.Lock()
	ch, ok := p.waiters[uniqueID]
	if ok {
		delete(p.waiters, uniqueID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- outcome
	return true
}

func (p *pendingCalls) remove(uniqueID string) {
	p.mu.Lock()
	delete(p.waiters, uniqueID)
	p.mu.Unlock()
}

func (p *pendingCalls) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
