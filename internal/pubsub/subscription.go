/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package pubsub

type HandleT uint64

const (
	InvalidHandle HandleT = 0
)

// HandlerFunc is invoked with the payload of a notification.
// A returned error is reported by the caller of the handler; it does not affect other subscribers.
type HandlerFunc[NotificationT any] func(n NotificationT) error

// Subscription is a single (topic, handler) registration.
type Subscription[NotificationT any] struct {
	Handle  HandleT
	Topic   string
	Handler HandlerFunc[NotificationT]
}
