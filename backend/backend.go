// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package backend

import (
	"net"

	"github.com/TheThingsNetwork/udp-gateway-bridge/auth"
	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/pkg/errors"
)

// ErrWouldBlock is returned by Southbound.Poll when no datagram is queued
var ErrWouldBlock = errors.New("would block")

// Northbound backends talk to the broker that is up the chain.
//
// All methods are called from a single goroutine. Completion of Connect,
// Publish and Subscribe is reported through the events returned by Pump.
type Northbound interface {
	Connect() error
	Disconnect() error
	Publish(topic string, payload []byte, qos byte) (types.MessageID, error)
	Subscribe(topicFilter string, qos byte) (types.MessageID, error)
	Pump() []types.Event
	State() types.ConnectionState
	Credential() *auth.Credential
}

// Southbound backends talk to the devices that are down the chain
type Southbound interface {
	Poll() (*types.Datagram, error)
	Send(addr *net.UDPAddr, payload []byte) error
	Discard() int
	Close() error
}
