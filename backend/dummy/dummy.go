// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package dummy

import (
	"net"
	"sync"
	"time"

	"github.com/TheThingsNetwork/udp-gateway-bridge/auth"
	"github.com/TheThingsNetwork/udp-gateway-bridge/backend"
	"github.com/TheThingsNetwork/udp-gateway-bridge/backend/mqtt"
	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/apex/log"
)

// Message that was published to (or subscribed at) the dummy broker
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
}

// Broker is an in-memory Northbound backend
type Broker struct {
	mu  sync.Mutex
	ctx log.Interface

	// Issue returns the credential for the next connection. Defaults to a credential issued now
	Issue func() (*auth.Credential, error)
	// AutoConnect queues a ConnectedEvent on every successful Connect
	AutoConnect bool

	state      types.ConnectionState
	credential *auth.Credential
	lastID     types.MessageID
	events     []types.Event
	published  []Message
	subscribed []Message
	connects   int
}

// NewBroker returns a new dummy Broker
func NewBroker(ctx log.Interface) *Broker {
	return &Broker{
		ctx: ctx.WithField("Connector", "Dummy"),
		Issue: func() (*auth.Credential, error) {
			now := time.Now()
			return &auth.Credential{Token: "dummy", IssuedAt: now, ExpiresAt: now.Add(auth.DefaultExpiry)}, nil
		},
		AutoConnect: true,
	}
}

// Connect implements backend interfaces
func (d *Broker) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != types.Disconnected {
		return nil
	}
	credential, err := d.Issue()
	if err != nil {
		return err
	}
	d.credential = credential
	d.state = types.Connecting
	d.connects++
	if d.AutoConnect {
		d.events = append(d.events, types.ConnectedEvent{})
	}
	d.ctx.Debug("Connecting")
	return nil
}

// Disconnect implements backend interfaces
func (d *Broker) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = types.Disconnected
	d.events = nil
	d.ctx.Debug("Disconnected")
	return nil
}

// Publish implements backend interfaces
func (d *Broker) Publish(topic string, payload []byte, qos byte) (types.MessageID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != types.Connected {
		return 0, mqtt.ErrNotConnected
	}
	d.lastID++
	d.published = append(d.published, Message{Topic: topic, Payload: payload, QoS: qos})
	d.events = append(d.events, types.PublishAckEvent{MessageID: d.lastID, Topic: topic})
	d.ctx.WithField("Topic", topic).Debug("Published")
	return d.lastID, nil
}

// Subscribe implements backend interfaces
func (d *Broker) Subscribe(topicFilter string, qos byte) (types.MessageID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != types.Connected {
		return 0, mqtt.ErrNotConnected
	}
	d.lastID++
	d.subscribed = append(d.subscribed, Message{Topic: topicFilter, QoS: qos})
	d.events = append(d.events, types.SubscribeAckEvent{MessageID: d.lastID, Topic: topicFilter, GrantedQoS: qos})
	d.ctx.WithField("Topic", topicFilter).Debug("Subscribed")
	return d.lastID, nil
}

// Pump implements backend interfaces
func (d *Broker) Pump() []types.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	events := d.events
	d.events = nil
	for _, evt := range events {
		switch evt.(type) {
		case types.ConnectedEvent:
			d.state = types.Connected
		case types.DisconnectedEvent:
			d.state = types.Disconnected
		}
	}
	return events
}

// State implements backend interfaces
func (d *Broker) State() types.ConnectionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Credential implements backend interfaces
func (d *Broker) Credential() *auth.Credential {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.credential
}

// Inject queues an event that is returned by the next Pump
func (d *Broker) Inject(evt types.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
}

// Published returns the messages that were published and forgets them
func (d *Broker) Published() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	published := d.published
	d.published = nil
	return published
}

// Subscribed returns the subscriptions that were made and forgets them
func (d *Broker) Subscribed() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribed := d.subscribed
	d.subscribed = nil
	return subscribed
}

// Connects returns the number of connection attempts
func (d *Broker) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

// Relay is an in-memory Southbound backend
type Relay struct {
	mu        sync.Mutex
	ctx       log.Interface
	datagrams []*types.Datagram
	sent      []types.Datagram
	closed    bool
}

// NewRelay returns a new dummy Relay
func NewRelay(ctx log.Interface) *Relay {
	return &Relay{
		ctx: ctx.WithField("Connector", "Dummy"),
	}
}

// Receive queues a datagram as if it was sent by a device at addr
func (d *Relay) Receive(addr *net.UDPAddr, payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.datagrams = append(d.datagrams, &types.Datagram{Addr: addr, Payload: payload})
}

// Poll implements backend interfaces
func (d *Relay) Poll() (*types.Datagram, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.datagrams) == 0 {
		return nil, backend.ErrWouldBlock
	}
	datagram := d.datagrams[0]
	d.datagrams = d.datagrams[1:]
	return datagram, nil
}

// Send implements backend interfaces
func (d *Relay) Send(addr *net.UDPAddr, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, types.Datagram{Addr: addr, Payload: payload})
	d.ctx.WithField("Address", addr.String()).Debug("Sent")
	return nil
}

// Discard implements backend interfaces
func (d *Relay) Discard() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.datagrams)
	d.datagrams = nil
	return n
}

// Close implements backend interfaces
func (d *Relay) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Sent returns the datagrams that were sent and forgets them
func (d *Relay) Sent() []types.Datagram {
	d.mu.Lock()
	defer d.mu.Unlock()
	sent := d.sent
	d.sent = nil
	return sent
}

// Closed returns whether Close was called
func (d *Relay) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
