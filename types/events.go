// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package types

// ConnectionState of the broker session
type ConnectionState int

// Connection states
const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	}
	return "Unknown"
}

// MessageID correlates a publish or subscribe with its acknowledgement
type MessageID uint64

// Event is returned by the broker session when pumped
type Event interface {
	isEvent()
}

// ConnectedEvent is emitted when the broker accepted the connection
type ConnectedEvent struct{}

// DisconnectedEvent is emitted when a connection attempt failed or an established connection was lost
type DisconnectedEvent struct {
	Err error
}

// MessageEvent is emitted for every message received from the broker
type MessageEvent struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// PublishAckEvent is emitted when the broker acknowledged a publish
type PublishAckEvent struct {
	MessageID MessageID
	Topic     string
	Err       error
}

// SubscribeAckEvent is emitted when the broker acknowledged a subscribe
type SubscribeAckEvent struct {
	MessageID  MessageID
	Topic      string
	GrantedQoS byte
	Err        error
}

func (ConnectedEvent) isEvent()    {}
func (DisconnectedEvent) isEvent() {}
func (MessageEvent) isEvent()      {}
func (PublishAckEvent) isEvent()   {}
func (SubscribeAckEvent) isEvent() {}
