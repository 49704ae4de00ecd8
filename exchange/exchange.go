// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package exchange

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/TheThingsNetwork/udp-gateway-bridge/backend"
	"github.com/TheThingsNetwork/udp-gateway-bridge/backend/mqtt"
	"github.com/TheThingsNetwork/udp-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/udp-gateway-bridge/registry"
	"github.com/TheThingsNetwork/udp-gateway-bridge/status/statusserver"
	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/apex/log"
	"github.com/pkg/errors"
)

// Defaults for the Config
var (
	DefaultTick                = time.Second
	DefaultMaxDatagramsPerTick = 64
)

// Config for the Exchange
type Config struct {
	GatewayID string
	// Tick is the interval between two iterations of Run
	Tick time.Duration
	// CredentialWindow is the age after which the credential is rotated. Zero disables rotation
	CredentialWindow time.Duration
	// ErrorReplies makes the Exchange answer failed requests with an error reply
	ErrorReplies bool
	// MaxDatagramsPerTick limits the datagrams handled in a single tick
	MaxDatagramsPerTick int
}

// Exchange bridges the devices on the southbound backend (UDP) to the
// northbound backend (the MQTT broker).
//
// Every Tick:
// - events of the broker are handled (connection changes and messages for devices)
// - while disconnected, datagrams are discarded and reconnects are scheduled
// - while connected, datagrams are decoded and dispatched to the broker
// - the credential is rotated when it gets too old
//
// All methods except Stop must be called from the same goroutine.
type Exchange struct {
	ctx    log.Interface
	config Config

	broker     backend.Northbound
	relay      backend.Southbound
	registry   *registry.Registry
	middleware middleware.Chain

	backoff     *mqtt.Backoff
	reconnectAt time.Time
	now         func() time.Time
	jitter      func() time.Duration

	authorizations map[string]string

	stopOnce sync.Once
	mu       sync.Mutex // Serializes Tick and Stop
}

// New initializes a new Exchange
func New(config Config, broker backend.Northbound, relay backend.Southbound, ctx log.Interface) *Exchange {
	if config.Tick <= 0 {
		config.Tick = DefaultTick
	}
	if config.MaxDatagramsPerTick <= 0 {
		config.MaxDatagramsPerTick = DefaultMaxDatagramsPerTick
	}
	return &Exchange{
		ctx:            ctx.WithField("GatewayID", config.GatewayID),
		config:         config,
		broker:         broker,
		relay:          relay,
		registry:       registry.New(),
		backoff:        mqtt.NewBackoff(),
		now:            time.Now,
		jitter:         func() time.Duration { return time.Duration(rand.Int63n(int64(time.Second))) },
		authorizations: make(map[string]string),
	}
}

// SetMiddleware sets the middleware chain that requests and downlinks pass through
func (b *Exchange) SetMiddleware(chain middleware.Chain) {
	b.middleware = chain
}

// Registry returns the registry of attached devices and subscriptions
func (b *Exchange) Registry() *registry.Registry {
	return b.registry
}

// Run the Exchange until the context is done (returns nil) or the
// connection to the broker can not be recovered (returns the error)
func (b *Exchange) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.config.Tick)
	defer ticker.Stop()
	for {
		if err := b.Tick(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs a single iteration of the Exchange. A returned error is fatal
func (b *Exchange) Tick() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, evt := range b.broker.Pump() {
		if err := b.handleEvent(evt); err != nil {
			return err
		}
	}

	state := b.broker.State()
	statusserver.SetConnection(state.String())
	if state != types.Connected {
		if n := b.relay.Discard(); n > 0 {
			b.ctx.WithField("Datagrams", n).Debug("Drop datagrams while not connected")
			registerDropped(dropDisconnected, n)
		}
		if state == types.Disconnected && !b.now().Before(b.reconnectAt) {
			return b.connect()
		}
		return nil
	}

	for i := 0; i < b.config.MaxDatagramsPerTick; i++ {
		datagram, err := b.relay.Poll()
		if err == backend.ErrWouldBlock {
			break
		}
		if err != nil {
			b.ctx.WithError(err).Warn("Could not read datagram")
			break
		}
		b.handleDatagram(datagram)
	}

	return b.rotate()
}

// connect starts a connection attempt. Configuration errors are fatal,
// other errors schedule a new attempt.
func (b *Exchange) connect() error {
	err := b.broker.Connect()
	if err == nil {
		return nil
	}
	if errors.Is(err, types.ErrConfig) {
		return err
	}
	b.ctx.WithError(err).Warn("Could not connect")
	return b.scheduleReconnect()
}

func (b *Exchange) scheduleReconnect() error {
	delay, err := b.backoff.Next()
	if err != nil {
		return errors.Wrap(types.ErrConnection, err.Error())
	}
	delay += b.jitter()
	b.reconnectAt = b.now().Add(delay)
	reconnectCounter.Inc()
	b.ctx.WithField("Delay", delay).Info("Scheduled reconnect")
	return nil
}

func (b *Exchange) rotate() error {
	if b.config.CredentialWindow <= 0 {
		return nil
	}
	credential := b.broker.Credential()
	if credential == nil || b.now().Sub(credential.IssuedAt) <= b.config.CredentialWindow {
		return nil
	}
	b.ctx.WithField("IssuedAt", credential.IssuedAt).Info("Rotating credential")
	rotationCounter.Inc()
	if err := b.broker.Disconnect(); err != nil {
		b.ctx.WithError(err).Warn("Could not disconnect")
	}
	return b.connect()
}

func (b *Exchange) handleEvent(evt types.Event) error {
	switch evt := evt.(type) {
	case types.ConnectedEvent:
		b.backoff.Reset()
		b.resume()
	case types.DisconnectedEvent:
		b.ctx.WithError(evt.Err).Warn("Lost connection")
		return b.scheduleReconnect()
	case types.MessageEvent:
		b.handleMessage(evt)
	case types.PublishAckEvent:
		ctx := b.ctx.WithField("Topic", evt.Topic).WithField("MessageID", evt.MessageID)
		if evt.Err != nil {
			ctx.WithError(evt.Err).Warn("Publish failed")
		} else {
			ctx.Debug("Publish acknowledged")
		}
	case types.SubscribeAckEvent:
		ctx := b.ctx.WithField("Topic", evt.Topic).WithField("MessageID", evt.MessageID)
		if evt.Err != nil {
			ctx.WithError(evt.Err).Warn("Subscribe failed")
		} else {
			ctx.WithField("QoS", evt.GrantedQoS).Debug("Subscribe acknowledged")
		}
	}
	return nil
}

// resume restores the broker side of the registry after a (re)connect
func (b *Exchange) resume() {
	b.registry.RecordSubscription(mqtt.ConfigTopic(b.config.GatewayID), registry.GatewayTarget)
	b.registry.RecordSubscription(mqtt.CommandsTopic(b.config.GatewayID), registry.GatewayTarget)

	identities := b.registry.Identities()
	for _, deviceID := range identities {
		if err := b.attach(deviceID, b.authorizations[deviceID]); err != nil {
			b.ctx.WithField("DeviceID", deviceID).WithError(err).Warn("Could not re-attach device")
		}
	}
	subscriptions := b.registry.Subscriptions()
	for _, topic := range subscriptions {
		if _, err := b.broker.Subscribe(topic, subscribeQoS(topic)); err != nil {
			b.ctx.WithField("Topic", topic).WithError(err).Warn("Could not re-subscribe")
		}
	}
	b.ctx.WithFields(log.Fields{
		"Devices":       len(identities),
		"Subscriptions": len(subscriptions),
	}).Info("Resumed session")
}

// Stop detaches all devices (if connected), disconnects from the broker and
// closes the relay. It is safe to call Stop more than once.
func (b *Exchange) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.broker.State() == types.Connected {
			for _, deviceID := range b.registry.Identities() {
				if _, err := b.broker.Publish(mqtt.DetachTopic(deviceID), []byte("{}"), mqtt.DetachQoS); err != nil {
					b.ctx.WithField("DeviceID", deviceID).WithError(err).Warn("Could not detach device")
				}
			}
		}
		if err := b.broker.Disconnect(); err != nil {
			b.ctx.WithError(err).Warn("Could not disconnect")
		}
		if err := b.relay.Close(); err != nil {
			b.ctx.WithError(err).Warn("Could not close relay")
		}
		attachedDevices.Set(0)
		statusserver.SetConnection(types.Disconnected.String())
		b.ctx.Info("Stopped")
	})
}
