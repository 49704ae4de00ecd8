// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package exchange

import (
	"bytes"

	"github.com/TheThingsNetwork/udp-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/udp-gateway-bridge/status/statusserver"
	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
)

// Payloads with DisplayPrefix are meant for the display of a device, which
// expects them prefixed with DisplayMarker
var (
	DisplayPrefix = []byte("DISP")
	DisplayMarker = []byte("d_")
)

func devicePayload(payload []byte) []byte {
	if !bytes.HasPrefix(payload, DisplayPrefix) {
		return payload
	}
	out := make([]byte, 0, len(DisplayMarker)+len(payload))
	out = append(out, DisplayMarker...)
	return append(out, payload...)
}

func (b *Exchange) handleMessage(msg types.MessageEvent) {
	ctx := b.ctx.WithField("Topic", msg.Topic)

	target, err := b.registry.Resolve(msg.Topic)
	if err != nil {
		ctx.WithError(err).Warn("Drop message without target")
		registerDropped(dropNoTarget, 1)
		return
	}
	if target.Gateway {
		ctx.WithField("Payload", string(msg.Payload)).Info("Received message for gateway")
		return
	}

	ctx = ctx.WithField("DeviceID", target.DeviceID).WithField("Address", target.Addr.String())
	downlink := &types.Downlink{
		DeviceID: target.DeviceID,
		Topic:    msg.Topic,
		Addr:     target.Addr,
		Payload:  devicePayload(msg.Payload),
	}
	if err := b.middleware.Execute(middleware.NewContext(), downlink); err != nil {
		ctx.WithError(err).Warn("Drop rejected downlink")
		registerDropped(dropRejected, 1)
		return
	}
	if err := b.relay.Send(downlink.Addr, downlink.Payload); err != nil {
		ctx.WithError(err).Warn("Could not relay message")
		registerDropped(dropSendFailed, 1)
		return
	}
	relayedCounter.Inc()
	statusserver.Relay()
	ctx.Debug("Relayed message")
}
