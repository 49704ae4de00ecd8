// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package dummy

import (
	"bytes"
	"net"
	"testing"

	"github.com/TheThingsNetwork/udp-gateway-bridge/backend"
	"github.com/TheThingsNetwork/udp-gateway-bridge/backend/mqtt"
	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"
)

var _ backend.Northbound = &Broker{}
var _ backend.Southbound = &Relay{}

func TestDummy(t *testing.T) {
	Convey("Given a new Context", t, func(c C) {

		var logs bytes.Buffer
		ctx := &log.Logger{
			Handler: text.New(&logs),
			Level:   log.DebugLevel,
		}
		defer func() {
			if logs.Len() > 0 {
				c.Printf("\n%s", logs.String())
			}
		}()

		Convey("When creating a new Broker", func() {
			broker := NewBroker(ctx)

			Convey("Publishing before connecting should fail", func() {
				_, err := broker.Publish("/devices/d1/events", []byte("1"), 0)
				So(err, ShouldEqual, mqtt.ErrNotConnected)
			})

			Convey("When calling Connect", func() {
				err := broker.Connect()
				Convey("There should be no error", func() {
					So(err, ShouldBeNil)
					So(broker.Connects(), ShouldEqual, 1)
					So(broker.Credential(), ShouldNotBeNil)
				})
				Convey("The next Pump should connect", func() {
					So(broker.State(), ShouldEqual, types.Connecting)
					events := broker.Pump()
					So(events, ShouldHaveLength, 1)
					So(broker.State(), ShouldEqual, types.Connected)

					Convey("When publishing a message", func() {
						id, err := broker.Publish("/devices/d1/events", []byte("1"), 0)
						So(err, ShouldBeNil)
						Convey("It should be recorded and acknowledged", func() {
							So(broker.Published(), ShouldResemble, []Message{{Topic: "/devices/d1/events", Payload: []byte("1")}})
							events := broker.Pump()
							So(events, ShouldHaveLength, 1)
							So(events[0].(types.PublishAckEvent).MessageID, ShouldEqual, id)
						})
					})

					Convey("When subscribing", func() {
						_, err := broker.Subscribe("/devices/d1/config", 1)
						So(err, ShouldBeNil)
						Convey("It should be recorded", func() {
							So(broker.Subscribed(), ShouldResemble, []Message{{Topic: "/devices/d1/config", QoS: 1}})
						})
					})

					Convey("When a DisconnectedEvent is injected", func() {
						broker.Inject(types.DisconnectedEvent{})
						broker.Pump()
						Convey("It should be disconnected", func() {
							So(broker.State(), ShouldEqual, types.Disconnected)
						})
					})
				})
			})
		})

		Convey("When creating a new Relay", func() {
			relay := NewRelay(ctx)
			addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 10000}

			Convey("Poll should not block when empty", func() {
				_, err := relay.Poll()
				So(err, ShouldEqual, backend.ErrWouldBlock)
			})

			Convey("Received datagrams should be polled in order", func() {
				relay.Receive(addr, []byte("a"))
				relay.Receive(addr, []byte("b"))
				first, _ := relay.Poll()
				second, _ := relay.Poll()
				So(string(first.Payload), ShouldEqual, "a")
				So(string(second.Payload), ShouldEqual, "b")
			})

			Convey("Discard should drop queued datagrams", func() {
				relay.Receive(addr, []byte("a"))
				So(relay.Discard(), ShouldEqual, 1)
				_, err := relay.Poll()
				So(err, ShouldEqual, backend.ErrWouldBlock)
			})

			Convey("Sent datagrams should be recorded", func() {
				So(relay.Send(addr, []byte("c")), ShouldBeNil)
				sent := relay.Sent()
				So(sent, ShouldHaveLength, 1)
				So(sent[0].Addr, ShouldEqual, addr)
			})

			Convey("Close should be recorded", func() {
				relay.Close()
				So(relay.Closed(), ShouldBeTrue)
			})
		})
	})
}
