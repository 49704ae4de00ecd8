// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package mqtt

import (
	"errors"
	"time"
)

// ErrBackoffExhausted is returned by Backoff.Next when the next delay would exceed the limit
var ErrBackoffExhausted = errors.New("Reconnect backoff exhausted")

var (
	// BackoffUnit is the first reconnect delay
	BackoffUnit = time.Second
	// BackoffLimit is the largest reconnect delay, in units
	BackoffLimit = 32
)

// Backoff computes exponential reconnect delays: 1, 2, 4, ... units up to the limit
type Backoff struct {
	unit  time.Duration
	limit time.Duration
	next  time.Duration
}

// NewBackoff returns a Backoff with the package defaults
func NewBackoff() *Backoff {
	return &Backoff{
		unit:  BackoffUnit,
		limit: time.Duration(BackoffLimit) * BackoffUnit,
		next:  BackoffUnit,
	}
}

// Next returns the delay before the next connection attempt and doubles the delay after that
func (b *Backoff) Next() (time.Duration, error) {
	if b.next > b.limit {
		return 0, ErrBackoffExhausted
	}
	delay := b.next
	b.next *= 2
	return delay, nil
}

// Reset the Backoff after a successful connection
func (b *Backoff) Reset() {
	b.next = b.unit
}
