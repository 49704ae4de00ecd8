// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package exchange

import (
	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/prometheus/client_golang/prometheus"
)

var attachedDevices = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "ttn",
		Subsystem: "bridge",
		Name:      "attached_devices",
		Help:      "Number of attached devices.",
	},
)

var handledCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ttn",
		Subsystem: "bridge",
		Name:      "requests_handled_total",
		Help:      "Total number of device requests handled.",
	}, []string{"action"},
)

var relayedCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ttn",
		Subsystem: "bridge",
		Name:      "messages_relayed_total",
		Help:      "Total number of broker messages relayed to devices.",
	},
)

var droppedCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ttn",
		Subsystem: "bridge",
		Name:      "messages_dropped_total",
		Help:      "Total number of dropped datagrams and messages.",
	}, []string{"reason"},
)

var reconnectCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ttn",
		Subsystem: "bridge",
		Name:      "reconnects_total",
		Help:      "Total number of scheduled reconnects.",
	},
)

var rotationCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ttn",
		Subsystem: "bridge",
		Name:      "credential_rotations_total",
		Help:      "Total number of credential rotations.",
	},
)

// Reasons for dropping
const (
	dropMalformed    = "malformed"
	dropRejected     = "rejected"
	dropDisconnected = "disconnected"
	dropNoTarget     = "no_target"
	dropSendFailed   = "send_failed"
)

func registerHandled(action types.Action) {
	handledCounter.WithLabelValues(string(action)).Inc()
}

func registerDropped(reason string, n int) {
	droppedCounter.WithLabelValues(reason).Add(float64(n))
}

func init() {
	prometheus.MustRegister(attachedDevices)
	prometheus.MustRegister(handledCounter)
	prometheus.MustRegister(relayedCounter)
	prometheus.MustRegister(droppedCounter)
	prometheus.MustRegister(reconnectCounter)
	prometheus.MustRegister(rotationCounter)
}
