// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package mqtt

import (
	"fmt"
	"strings"
)

// Topic formats for attach, detach, config, commands and events messages
var (
	AttachTopicFormat   = "/devices/%s/attach"
	DetachTopicFormat   = "/devices/%s/detach"
	ConfigTopicFormat   = "/devices/%s/config"
	CommandsTopicFormat = "/devices/%s/commands/#"
	EventsTopicFormat   = "/devices/%s/events"
)

// ClientIDFormat is the format of the client ID of the gateway
var ClientIDFormat = "projects/%s/locations/%s/registries/%s/devices/%s"

// QoS indicates the MQTT Quality of Service level.
// 0: The broker/client will deliver the message once, with no confirmation.
// 1: The broker/client will deliver the message at least once, with confirmation required.
var (
	AttachQoS   byte = 0x01
	DetachQoS   byte = 0x01
	ConfigQoS   byte = 0x01
	CommandsQoS byte = 0x00
	EventsQoS   byte = 0x00
)

// MaxQoS is the highest QoS level accepted by the broker
const MaxQoS byte = 0x01

// AttachTopic returns the attach topic of a device
func AttachTopic(deviceID string) string { return fmt.Sprintf(AttachTopicFormat, deviceID) }

// DetachTopic returns the detach topic of a device
func DetachTopic(deviceID string) string { return fmt.Sprintf(DetachTopicFormat, deviceID) }

// ConfigTopic returns the config topic of a device
func ConfigTopic(deviceID string) string { return fmt.Sprintf(ConfigTopicFormat, deviceID) }

// CommandsTopic returns the commands topic filter of a device
func CommandsTopic(deviceID string) string { return fmt.Sprintf(CommandsTopicFormat, deviceID) }

// EventsTopic returns the events topic of a device
func EventsTopic(deviceID string) string { return fmt.Sprintf(EventsTopicFormat, deviceID) }

func validate(topic string, qos byte, filter bool) error {
	if qos > MaxQoS {
		return ErrInvalidQoS
	}
	if topic == "" {
		return ErrInvalidTopic
	}
	if !filter && strings.ContainsAny(topic, "+#") {
		return ErrInvalidTopic
	}
	return nil
}
