// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package exchange

import (
	"strings"

	"github.com/TheThingsNetwork/udp-gateway-bridge/backend/mqtt"
	"github.com/TheThingsNetwork/udp-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/udp-gateway-bridge/registry"
	"github.com/TheThingsNetwork/udp-gateway-bridge/status/statusserver"
	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/apex/log"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// ErrNotAttached is returned for requests of devices that did not attach
var ErrNotAttached = errors.Wrap(types.ErrProtocol, "device not attached")

func subscribeQoS(topicFilter string) byte {
	if strings.HasSuffix(topicFilter, "/commands/#") {
		return mqtt.CommandsQoS
	}
	return mqtt.ConfigQoS
}

func (b *Exchange) handleDatagram(datagram *types.Datagram) {
	ctx := b.ctx.WithField("Address", datagram.Addr.String())

	req, err := types.DecodeRequest(datagram.Payload)
	if err != nil {
		ctx.WithError(err).Warn("Drop malformed datagram")
		registerDropped(dropMalformed, 1)
		return
	}
	request := &types.DeviceRequest{Request: *req, Addr: datagram.Addr}
	ctx = ctx.WithFields(log.Fields{
		"DeviceID": req.DeviceID,
		"Action":   req.Action,
	})

	// Rejected requests are never answered, the source address may be spoofed
	if err := b.middleware.Execute(middleware.NewContext(), request); err != nil {
		ctx.WithError(err).Warn("Drop rejected request")
		registerDropped(dropRejected, 1)
		return
	}

	registerHandled(req.Action)
	statusserver.Request()
	err = b.dispatch(request)
	if err != nil {
		ctx.WithError(err).Warn("Could not handle request")
	} else {
		ctx.Debug("Handled request")
	}
	b.reply(ctx, request, err)
}

// reply answers a handled request. Failures are only answered when configured
func (b *Exchange) reply(ctx log.Interface, request *types.DeviceRequest, cause error) {
	if cause != nil && !b.config.ErrorReplies {
		return
	}
	payload, err := types.NewReply(&request.Request, cause).MarshalBinary()
	if err != nil {
		ctx.WithError(err).Warn("Could not encode reply")
		return
	}
	if err := b.relay.Send(request.Addr, payload); err != nil {
		ctx.WithError(err).Warn("Could not send reply")
	}
}

func (b *Exchange) dispatch(request *types.DeviceRequest) error {
	deviceID := request.DeviceID
	if request.Action != types.ActionAttach && !b.registry.IsAttached(deviceID) {
		return ErrNotAttached
	}
	switch request.Action {
	case types.ActionAttach:
		if err := b.attach(deviceID, request.JWT); err != nil {
			return err
		}
		b.authorizations[deviceID] = request.JWT
		if b.registry.RecordIdentity(deviceID) {
			attachedDevices.Inc()
			statusserver.AttachDevice()
		}
	case types.ActionDetach:
		if _, err := b.broker.Publish(mqtt.DetachTopic(deviceID), []byte("{}"), mqtt.DetachQoS); err != nil {
			return err
		}
		b.registry.ForgetIdentity(deviceID)
		b.registry.RemoveDevice(deviceID)
		delete(b.authorizations, deviceID)
		attachedDevices.Dec()
		statusserver.DetachDevice()
	case types.ActionSubscribe:
		target := registry.DeviceTarget(deviceID, request.Addr)
		for _, topic := range []string{mqtt.ConfigTopic(deviceID), mqtt.CommandsTopic(deviceID)} {
			if _, err := b.broker.Subscribe(topic, subscribeQoS(topic)); err != nil {
				return err
			}
			b.registry.RecordSubscription(topic, target)
		}
	case types.ActionEvent:
		payload, err := request.EventPayload()
		if err != nil {
			return err
		}
		if _, err := b.broker.Publish(mqtt.EventsTopic(deviceID), payload, mqtt.EventsQoS); err != nil {
			return err
		}
		statusserver.Event()
	}
	return nil
}

func (b *Exchange) attach(deviceID, authorization string) error {
	payload, err := json.Marshal(types.AttachPayload{Authorization: authorization})
	if err != nil {
		return err
	}
	_, err = b.broker.Publish(mqtt.AttachTopic(deviceID), payload, mqtt.AttachQoS)
	return err
}
