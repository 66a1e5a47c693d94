/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package pubsub

import (
	"slices"
	"sync"
)

// Registry maps topics to ordered lists of subscriptions.
//
// Per-topic lists are copy-on-write: every mutation replaces the list, so a slice returned
// by Subscriptions() is never modified afterwards. This lets a caller iterate a snapshot
// while handlers subscribe or unsubscribe concurrently (or from inside a handler).
type Registry[NotificationT any] struct {
	// The mutex that makes the registry goroutine-safe.
	lock *sync.RWMutex

	subscriptions map[string][]*Subscription[NotificationT]

	// Handles are unique within a registry and never reused.
	lastHandle HandleT
}

func NewRegistry[NotificationT any]() *Registry[NotificationT] {
	return &Registry[NotificationT]{
		lock:          &sync.RWMutex{},
		subscriptions: make(map[string][]*Subscription[NotificationT]),
	}
}

// Subscribe appends the handler to the end of the topic's list and returns its handle.
func (r *Registry[NotificationT]) Subscribe(topic string, handler HandlerFunc[NotificationT]) HandleT {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.lastHandle++
	sub := &Subscription[NotificationT]{
		Handle:  r.lastHandle,
		Topic:   topic,
		Handler: handler,
	}

	current := r.subscriptions[topic]
	updated := make([]*Subscription[NotificationT], len(current), len(current)+1)
	copy(updated, current)
	r.subscriptions[topic] = append(updated, sub)

	return sub.Handle
}

// Unsubscribe removes the subscription with the given handle from the topic.
// Returns false (and does nothing) if there is no such subscription.
func (r *Registry[NotificationT]) Unsubscribe(topic string, handle HandleT) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	current := r.subscriptions[topic]
	i := slices.IndexFunc(current, func(s *Subscription[NotificationT]) bool { return s.Handle == handle })
	if i < 0 {
		return false
	}

	if len(current) == 1 {
		delete(r.subscriptions, topic)
		return true
	}

	r.subscriptions[topic] = slices.Delete(slices.Clone(current), i, i+1)
	return true
}

// Subscriptions returns a snapshot of the topic's subscriptions in subscription order.
// The returned slice must not be modified.
func (r *Registry[NotificationT]) Subscriptions(topic string) []*Subscription[NotificationT] {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.subscriptions[topic]
}

// Len returns the number of subscriptions for the topic.
func (r *Registry[NotificationT]) Len(topic string) int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.subscriptions[topic])
}

