// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package mqtt maintains the authenticated session of the gateway with the
// MQTT bridge of the cloud IoT broker.
//
// The gateway connects as the client
// "projects/[project]/locations/[region]/registries/[registry]/devices/[gateway]"
// with username "unused" and a signed JWT as password. The connection is
// secured with TLS 1.2 or higher.
//
// Devices behind the gateway are attached by publishing to the
// "/devices/[device-id]/attach" topic and detached by publishing to
// "/devices/[device-id]/detach". Telemetry events are published to
// "/devices/[device-id]/events". Configuration and commands are received by
// subscribing to "/devices/[device-id]/config" and
// "/devices/[device-id]/commands/#".
//
// The Session does not call back into the application. Everything that
// happens on the connection (connects, disconnects, received messages and
// acknowledgements) is queued and returned by Pump, which must be called from
// the same goroutine that calls Connect, Publish and Subscribe.
package mqtt
