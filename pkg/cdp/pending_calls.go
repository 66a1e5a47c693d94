/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package cdp

import (
	"fmt"
	"sync"
)

// callResult is the outcome of a call: a result payload or an error.
type callResult struct {
	result Payload
	err    error
}

// pendingCall tracks a call that is awaiting its reply.
type pendingCall struct {
	id uint64

	// done receives exactly one result. It is buffered so that fulfilling never blocks.
	done chan callResult
}

// pendingCallTable is a thread-safe map of pending calls keyed by call id.
// An entry is removed the moment it is fulfilled, so every call completes exactly once.
type pendingCallTable struct {
	lock  *sync.Mutex
	calls map[uint64]*pendingCall

	// sealed is set when shutdown begins; no new registrations are accepted afterwards.
	sealed bool
}

func newPendingCallTable() *pendingCallTable {
	return &pendingCallTable{
		lock:  &sync.Mutex{},
		calls: make(map[uint64]*pendingCall),
	}
}

// Register allocates a completion slot for the given id.
func (t *pendingCallTable) Register(id uint64) (*pendingCall, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.sealed {
		return nil, ErrNotConnected
	}
	if _, exists := t.calls[id]; exists {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}

	pc := &pendingCall{
		id:   id,
		done: make(chan callResult, 1),
	}
	t.calls[id] = pc
	return pc, nil
}

// Fulfill completes the call with the given id.
// Returns false if no such call is pending (the reply is stale).
func (t *pendingCallTable) Fulfill(id uint64, res callResult) bool {
	t.lock.Lock()
	pc, found := t.calls[id]
	if found {
		delete(t.calls, id)
	}
	t.lock.Unlock()

	if !found {
		return false
	}

	pc.done <- res
	return true
}

// Remove drops the call with the given id without fulfilling it (the caller gave up waiting).
// Returns false if the call was already fulfilled or removed.
func (t *pendingCallTable) Remove(id uint64) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	_, found := t.calls[id]
	if found {
		delete(t.calls, id)
	}
	return found
}

// Seal stops accepting new registrations. Calls that are already pending are unaffected.
func (t *pendingCallTable) Seal() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.sealed = true
}

// FulfillAll completes every pending call with the given error, clears the table and seals it.
// Returns the number of calls that were completed.
func (t *pendingCallTable) FulfillAll(err error) int {
	t.lock.Lock()
	t.sealed = true
	calls := t.calls
	t.calls = make(map[uint64]*pendingCall)
	t.lock.Unlock()

	for _, pc := range calls {
		pc.done <- callResult{err: err}
	}
	return len(calls)
}

// Len returns the number of pending calls.
func (t *pendingCallTable) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.calls)
}
