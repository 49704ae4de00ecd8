// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package types

import "github.com/pkg/errors"

// Error classes shared by all components. Use errors.Is to classify a wrapped error.
var (
	// ErrConfig is returned for invalid configuration or unreadable key material. Fatal at startup.
	ErrConfig = errors.New("configuration error")

	// ErrConnection is returned when the broker can not be reached. Fatal once backoff is exhausted.
	ErrConnection = errors.New("connection error")

	// ErrProtocol is returned for malformed or rejected messages. The message is dropped.
	ErrProtocol = errors.New("protocol error")

	// ErrNotFound is returned when a topic has no subscriber. The message is dropped.
	ErrNotFound = errors.New("not found")
)
