// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/TheThingsNetwork/udp-gateway-bridge/auth"
	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/apex/log"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

// Errors returned by the Session
var (
	ErrNotConnected   = errors.New("Not connected to MQTT")
	ErrInvalidQoS     = errors.New("Invalid QoS")
	ErrInvalidTopic   = errors.New("Invalid topic")
	ErrConnectTimeout = errors.New("MQTT connection timed out")
)

// BufferSize indicates the maximum number of events that should be buffered between two pumps
var BufferSize = 64

var (
	// ConnectTimeout is the time after which a connection attempt is given up
	ConnectTimeout = 10 * time.Second
	// KeepAlive is the keepalive interval of the connection
	KeepAlive = 60 * time.Second
	// DisconnectQuiesce is the time (in milliseconds) to wait for pending work when disconnecting
	DisconnectQuiesce uint = 250
)

// Username is sent to the broker, which ignores it
const Username = "unused"

// Config contains configuration for MQTT
type Config struct {
	Server     string // ssl://host:port
	TLSConfig  *tls.Config
	ProjectID  string
	Region     string
	RegistryID string
	GatewayID  string
}

// ClientID returns the MQTT client ID of the gateway
func (c Config) ClientID() string {
	return fmt.Sprintf(ClientIDFormat, c.ProjectID, c.Region, c.RegistryID, c.GatewayID)
}

// NewTLSConfig returns a TLS configuration that trusts the CA certificates in caFile
func NewTLSConfig(caFile string) (*tls.Config, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, errors.Wrap(types.ErrConfig, err.Error())
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.Wrapf(types.ErrConfig, "no certificates in %s", caFile)
	}
	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

type event struct {
	generation uint64
	client     paho.Client // set for ConnectedEvent
	types.Event
}

// Session of the gateway with the MQTT bridge
type Session struct {
	ctx        log.Interface
	config     Config
	credential func() (*auth.Credential, error)

	events chan event

	// everything below is owned by the goroutine that calls the Session methods
	client     paho.Client
	generation uint64
	state      types.ConnectionState
	current    *auth.Credential
	lastID     types.MessageID
	pending    *pending
	watchdog   *watchdog
}

// New returns a new MQTT Session. The credential function is called before every connection attempt
func New(config Config, credential func() (*auth.Credential, error), ctx log.Interface) *Session {
	return &Session{
		ctx:        ctx.WithField("Connector", "MQTT"),
		config:     config,
		credential: credential,
		events:     make(chan event, BufferSize),
		pending:    newPending(PendingTTL, PendingLimit),
	}
}

// enqueue a connection event. Blocks until there is room in the buffer
func (s *Session) enqueue(generation uint64, evt types.Event) {
	s.events <- event{generation: generation, Event: evt}
}

// offer a message or acknowledgement event. Drops the event if the buffer is full
func (s *Session) offer(generation uint64, evt types.Event) bool {
	select {
	case s.events <- event{generation: generation, Event: evt}:
		return true
	default:
		return false
	}
}

// Connect to MQTT. The outcome is returned by Pump as a ConnectedEvent or DisconnectedEvent
func (s *Session) Connect() error {
	if s.state != types.Disconnected {
		return nil
	}
	credential, err := s.credential()
	if err != nil {
		return err
	}

	s.generation++
	generation := s.generation
	ctx := s.ctx.WithField("Generation", generation)

	mqttOpts := paho.NewClientOptions()
	mqttOpts.AddBroker(s.config.Server)
	if s.config.TLSConfig != nil {
		mqttOpts.SetTLSConfig(s.config.TLSConfig)
	}
	mqttOpts.SetClientID(s.config.ClientID())
	mqttOpts.SetUsername(Username)
	mqttOpts.SetPassword(credential.Token)
	mqttOpts.SetKeepAlive(KeepAlive)
	mqttOpts.SetConnectTimeout(ConnectTimeout)
	mqttOpts.SetCleanSession(true)
	mqttOpts.SetAutoReconnect(false)
	mqttOpts.SetConnectRetry(false)
	mqttOpts.SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
		if !s.offer(generation, types.MessageEvent{
			Topic:    msg.Topic(),
			Payload:  msg.Payload(),
			QoS:      msg.Qos(),
			Retained: msg.Retained(),
		}) {
			ctx.WithField("Topic", msg.Topic()).Warn("Could not handle message: buffer full")
		}
	})
	mqttOpts.SetOnConnectHandler(func(client paho.Client) {
		s.events <- event{generation: generation, client: client, Event: types.ConnectedEvent{}}
	})
	mqttOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.enqueue(generation, types.DisconnectedEvent{Err: err})
	})

	s.client = paho.NewClient(mqttOpts)
	s.current = credential
	s.state = types.Connecting
	s.watchdog = newWatchdog(ConnectTimeout, func() {
		s.enqueue(generation, types.DisconnectedEvent{Err: ErrConnectTimeout})
	})

	ctx.WithField("Server", s.config.Server).Info("Connecting to MQTT...")
	token := s.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.enqueue(generation, types.DisconnectedEvent{Err: err})
		}
	}()
	return nil
}

// Disconnect from MQTT. Events of the current connection that were not pumped yet are discarded
func (s *Session) Disconnect() error {
	if s.state == types.Disconnected {
		return nil
	}
	s.teardown()
	s.ctx.Info("Disconnected from MQTT")
	return nil
}

func (s *Session) teardown() {
	s.generation++
	s.watchdog.Disarm()
	s.watchdog = nil
	s.state = types.Disconnected
	if n := s.pending.len(); n > 0 {
		s.ctx.WithField("Pending", n).Debug("Forget unacknowledged messages")
	}
	s.pending.clear()
	if s.client != nil && s.client.IsConnectionOpen() {
		s.client.Disconnect(DisconnectQuiesce)
	}
}

func (s *Session) nextMessageID() types.MessageID {
	s.lastID++
	return s.lastID
}

func (s *Session) track(id types.MessageID, kind pendingKind, topic string) {
	s.pending.add(id, kind, topic)
}

// Publish a message. The acknowledgement is returned by Pump as a PublishAckEvent
func (s *Session) Publish(topic string, payload []byte, qos byte) (types.MessageID, error) {
	if err := validate(topic, qos, false); err != nil {
		return 0, err
	}
	if s.state != types.Connected {
		return 0, ErrNotConnected
	}
	id := s.nextMessageID()
	s.track(id, pendingPublish, topic)
	token := s.client.Publish(topic, qos, false, payload)
	generation := s.generation
	go func() {
		if !token.WaitTimeout(PendingTTL) {
			return
		}
		s.offer(generation, types.PublishAckEvent{MessageID: id, Topic: topic, Err: token.Error()})
	}()
	return id, nil
}

// Subscribe to a topic filter. The acknowledgement is returned by Pump as a SubscribeAckEvent
func (s *Session) Subscribe(topicFilter string, qos byte) (types.MessageID, error) {
	if err := validate(topicFilter, qos, true); err != nil {
		return 0, err
	}
	if s.state != types.Connected {
		return 0, ErrNotConnected
	}
	id := s.nextMessageID()
	s.track(id, pendingSubscribe, topicFilter)
	token := s.client.Subscribe(topicFilter, qos, nil)
	generation := s.generation
	go func() {
		if !token.WaitTimeout(PendingTTL) {
			return
		}
		ack := types.SubscribeAckEvent{MessageID: id, Topic: topicFilter, Err: token.Error()}
		if sub, ok := token.(*paho.SubscribeToken); ok && ack.Err == nil {
			ack.GrantedQoS = sub.Result()[topicFilter]
			if ack.GrantedQoS == 0x80 {
				ack.Err = fmt.Errorf("Subscription to %s refused", topicFilter)
			}
		}
		s.offer(generation, ack)
	}()
	return id, nil
}

// Pump returns the events that were queued since the last call. It never blocks.
func (s *Session) Pump() (events []types.Event) {
	for {
		select {
		case evt := <-s.events:
			if evt.generation != s.generation {
				// a connection that completed after it was given up
				if evt.client != nil && evt.client.IsConnectionOpen() {
					evt.client.Disconnect(0)
				}
				continue
			}
			if evt := s.apply(evt.Event); evt != nil {
				events = append(events, evt)
			}
		default:
			evicted, expired := s.pending.drain()
			if evicted > 0 {
				s.ctx.WithField("Evicted", evicted).Warn("Too many unacknowledged messages")
			}
			if expired > 0 {
				s.ctx.WithField("Expired", expired).Debug("Unacknowledged messages expired")
			}
			return events
		}
	}
}

func (s *Session) apply(evt types.Event) types.Event {
	switch evt := evt.(type) {
	case types.ConnectedEvent:
		if s.state != types.Connecting {
			return nil
		}
		s.watchdog.Disarm()
		s.watchdog = nil
		s.state = types.Connected
		s.ctx.Info("Connected to MQTT")
	case types.DisconnectedEvent:
		if s.state == types.Disconnected {
			return nil
		}
		s.teardown()
		s.ctx.WithError(evt.Err).Warn("Disconnected from MQTT")
	case types.PublishAckEvent:
		if _, ok := s.pending.resolve(evt.MessageID, pendingPublish); !ok {
			s.ctx.WithField("MessageID", evt.MessageID).Debug("Ignore unmatched publish acknowledgement")
			return nil
		}
	case types.SubscribeAckEvent:
		if _, ok := s.pending.resolve(evt.MessageID, pendingSubscribe); !ok {
			s.ctx.WithField("MessageID", evt.MessageID).Debug("Ignore unmatched subscribe acknowledgement")
			return nil
		}
	}
	return evt
}

// State of the connection
func (s *Session) State() types.ConnectionState {
	return s.state
}

// Credential that was used for the current connection
func (s *Session) Credential() *auth.Credential {
	return s.current
}

// Pending returns the number of unacknowledged publishes and subscribes
func (s *Session) Pending() int {
	return s.pending.len()
}
