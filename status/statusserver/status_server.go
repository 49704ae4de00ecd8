// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package statusserver serves the status of the bridge over HTTP.
//
// GET /status returns the 1, 5 and 15 minute rates of handled requests,
// published events and relayed messages, together with the number of attached
// devices. GET /metrics serves the Prometheus metrics of the process.
package statusserver

import (
	"net/http"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"
)

var global = newStatusServer()

func newStatusServer() *statusServer {
	return &statusServer{
		request:         metrics.NewMeter(),
		event:           metrics.NewMeter(),
		relay:           metrics.NewMeter(),
		attachedDevices: metrics.NewCounter(),
		connection:      "Disconnected",
	}
}

type statusServer struct {
	accessKeys []string

	request         metrics.Meter
	event           metrics.Meter
	relay           metrics.Meter
	attachedDevices metrics.Counter

	mu         sync.RWMutex
	connection string
}

// Rates per second, averaged over 1, 5 and 15 minutes
type Rates struct {
	Rate1  float64 `json:"rate_1"`
	Rate5  float64 `json:"rate_5"`
	Rate15 float64 `json:"rate_15"`
}

func rates(m metrics.Meter) Rates {
	snapshot := m.Snapshot()
	return Rates{
		Rate1:  snapshot.Rate1(),
		Rate5:  snapshot.Rate5(),
		Rate15: snapshot.Rate15(),
	}
}

// Status of the bridge
type Status struct {
	Connection      string `json:"connection"`
	Request         Rates  `json:"request"`
	Event           Rates  `json:"event"`
	Relay           Rates  `json:"relay"`
	AttachedDevices int64  `json:"attached_devices"`
}

func (s *statusServer) AddAccessKey(key string) {
	s.accessKeys = append(s.accessKeys, key)
}

// AddAccessKey adds an access key for a client
func AddAccessKey(key string) {
	global.AddAccessKey(key)
}

func (s *statusServer) Request() {
	s.request.Mark(1)
}

// Request registers a handled request in the default status server
func Request() {
	global.Request()
}

func (s *statusServer) Event() {
	s.event.Mark(1)
}

// Event registers a published event in the default status server
func Event() {
	global.Event()
}

func (s *statusServer) Relay() {
	s.relay.Mark(1)
}

// Relay registers a message relayed to a device in the default status server
func Relay() {
	global.Relay()
}

func (s *statusServer) AttachDevice() {
	s.attachedDevices.Inc(1)
}

// AttachDevice registers a device attachment in the default status server
func AttachDevice() {
	global.AttachDevice()
}

func (s *statusServer) DetachDevice() {
	s.attachedDevices.Dec(1)
}

// DetachDevice registers a device detachment in the default status server
func DetachDevice() {
	global.DetachDevice()
}

func (s *statusServer) SetConnection(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connection = state
}

// SetConnection registers the state of the broker connection in the default status server
func SetConnection(state string) {
	global.SetConnection(state)
}

func (s *statusServer) getStatus() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Status{
		Connection:      s.connection,
		Request:         rates(s.request),
		Event:           rates(s.event),
		Relay:           rates(s.relay),
		AttachedDevices: s.attachedDevices.Snapshot().Count(),
	}
}

func (s *statusServer) authorized(r *http.Request) bool {
	if len(s.accessKeys) == 0 {
		return true
	}
	key := strings.TrimPrefix(r.Header.Get("Authorization"), "Key ")
	for _, allowed := range s.accessKeys {
		if key == allowed {
			return true
		}
	}
	return false
}

func (s *statusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.getStatus())
}

func (s *statusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/status", s)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Handler returns the HTTP handler of the default status server
func Handler() http.Handler {
	return global.Handler()
}
