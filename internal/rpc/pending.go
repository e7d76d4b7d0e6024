package rpc

import (
	"encoding/json"
	"fmt"
	"sync"
)

type result struct {
	data json.RawMessage
	err  error
}

type pendingCall struct {
	route string
	done  chan result
}

// pendingTable maps correlation tokens to the caller waiting on them. An
// entry is removed exactly once, by whichever settlement path reaches it
// first; the others find nothing and do nothing.
type pendingTable struct {
	mu     sync.Mutex
	calls  map[string]*pendingCall
	closed error
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[string]*pendingCall)}
}

// add registers a call under id. A token that is already pending is refused.
func (p *pendingTable) add(id, route string) (<-chan result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed != nil {
		return nil, p.closed
	}
	if _, exists := p.calls[id]; exists {
		return nil, fmt.Errorf("correlation token %q already pending", id)
	}
	call := &pendingCall{route: route, done: make(chan result, 1)}
	p.calls[id] = call
	return call.done, nil
}

// settle removes id and hands it the result built by fn. It reports false
// when id is not pending (stale, duplicate or foreign token).
func (p *pendingTable) settle(id string, fn func(route string) result) bool {
	p.mu.Lock()
	call, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	call.done <- fn(call.route)
	return true
}

// drop removes id without settling it.
func (p *pendingTable) drop(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.calls[id]; !ok {
		return false
	}
	delete(p.calls, id)
	return true
}

// closeAll rejects every pending call with err and refuses new ones.
func (p *pendingTable) closeAll(err error) int {
	p.mu.Lock()
	calls := p.calls
	p.calls = make(map[string]*pendingCall)
	if p.closed == nil {
		p.closed = err
	}
	p.mu.Unlock()

	for _, call := range calls {
		call.done <- result{err: err}
	}
	return len(calls)
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
