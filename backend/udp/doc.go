// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package udp relays datagrams between devices and the bridge.
//
// Devices send one JSON object per datagram to the bridge, for example
// `{"device":"my-device","action":"attach"}`. Replies, configuration and
// commands are sent back to the address the device sent its subscribe
// request from.
//
// A reader goroutine queues incoming datagrams; Poll takes one datagram from
// the queue without blocking.
package udp
