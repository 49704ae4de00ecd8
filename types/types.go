// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package types

import (
	"bytes"
	"net"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Action requested by a device
type Action string

// Actions a device can request over UDP
const (
	ActionAttach    Action = "attach"
	ActionDetach    Action = "detach"
	ActionSubscribe Action = "subscribe"
	ActionEvent     Action = "event"
)

// Valid returns whether the action is known
func (a Action) Valid() bool {
	switch a {
	case ActionAttach, ActionDetach, ActionSubscribe, ActionEvent:
		return true
	}
	return false
}

// Reply statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Datagram is a single UDP payload together with its source (or destination) address
type Datagram struct {
	Addr    *net.UDPAddr
	Payload []byte
}

// Request is the JSON object a device sends to the gateway
type Request struct {
	DeviceID string          `json:"device"`
	Action   Action          `json:"action"`
	Data     json.RawMessage `json:"data,omitempty"`
	JWT      string          `json:"jwt,omitempty"`
}

// DeviceRequest is a decoded Request together with the address it came from
type DeviceRequest struct {
	Request
	Addr *net.UDPAddr
}

// Downlink is a broker message that is relayed to a device
type Downlink struct {
	DeviceID string
	Topic    string
	Addr     *net.UDPAddr
	Payload  []byte
}

// Reply is sent back to the device after an action was handled
type Reply struct {
	DeviceID string `json:"device"`
	Command  Action `json:"command"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// AttachPayload is published on the attach topic of a device
type AttachPayload struct {
	Authorization string `json:"authorization"`
}

// DecodeRequest decodes and validates a device request
func DecodeRequest(payload []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, errors.Wrap(ErrProtocol, err.Error())
	}
	if req.DeviceID == "" {
		return nil, errors.Wrap(ErrProtocol, "missing device")
	}
	if req.Action == "" {
		return nil, errors.Wrap(ErrProtocol, "missing action")
	}
	if !req.Action.Valid() {
		return nil, errors.Wrapf(ErrProtocol, "unknown action %q", req.Action)
	}
	return &req, nil
}

// EventPayload returns the compact JSON encoding of the data field
func (r *Request) EventPayload() ([]byte, error) {
	if len(r.Data) == 0 {
		return nil, errors.Wrap(ErrProtocol, "event without data")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, r.Data); err != nil {
		return nil, errors.Wrap(ErrProtocol, err.Error())
	}
	return buf.Bytes(), nil
}

// NewReply returns the reply for a handled request. A nil error results in an "ok" reply
func NewReply(req *Request, err error) *Reply {
	reply := &Reply{
		DeviceID: req.DeviceID,
		Command:  req.Action,
		Status:   StatusOK,
	}
	if err != nil {
		reply.Status = StatusError
		reply.Error = err.Error()
	}
	return reply
}

// MarshalBinary encodes the reply for the wire
func (r *Reply) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}
