// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package registry

import (
	"net"
	"testing"

	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func udpAddr(str string) *net.UDPAddr {
	addr, err := net.ResolveUDPAddr("udp", str)
	if err != nil {
		panic(err)
	}
	return addr
}

func TestRegistry(t *testing.T) {
	Convey("Given a new Registry", t, func() {
		r := New()

		Convey("When recording an identity", func() {
			added := r.RecordIdentity("d1")
			Convey("It should be added", func() {
				So(added, ShouldBeTrue)
				So(r.IsAttached("d1"), ShouldBeTrue)
				So(r.Identities(), ShouldResemble, []string{"d1"})
			})
			Convey("When recording it again", func() {
				Convey("It should not be added twice", func() {
					So(r.RecordIdentity("d1"), ShouldBeFalse)
					So(r.Identities(), ShouldHaveLength, 1)
				})
			})
			Convey("When forgetting it", func() {
				r.ForgetIdentity("d1")
				Convey("It should not be attached", func() {
					So(r.IsAttached("d1"), ShouldBeFalse)
					So(r.Identities(), ShouldBeEmpty)
				})
			})
		})

		Convey("When resolving a topic without subscriptions", func() {
			_, err := r.Resolve("/devices/d1/config")
			Convey("There should be a NotFound error", func() {
				So(errors.Is(err, types.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When recording subscriptions", func() {
			addr1 := udpAddr("127.0.0.1:5001")
			addr2 := udpAddr("127.0.0.1:5002")
			r.RecordSubscription("/devices/d1/config", DeviceTarget("d1", addr1))
			r.RecordSubscription("/devices/d1/commands/#", DeviceTarget("d1", addr1))
			r.RecordSubscription("/devices/gw/config", GatewayTarget)

			Convey("Exact topics should resolve", func() {
				target, err := r.Resolve("/devices/d1/config")
				So(err, ShouldBeNil)
				So(target.Addr, ShouldEqual, addr1)
				So(target.DeviceID, ShouldEqual, "d1")
				target, err = r.Resolve("/devices/gw/config")
				So(err, ShouldBeNil)
				So(target.Gateway, ShouldBeTrue)
			})

			Convey("Topics below a wildcard should resolve", func() {
				target, err := r.Resolve("/devices/d1/commands/reboot")
				So(err, ShouldBeNil)
				So(target.Addr, ShouldEqual, addr1)
				target, err = r.Resolve("/devices/d1/commands")
				So(err, ShouldBeNil)
				So(target.Addr, ShouldEqual, addr1)
			})

			Convey("Other topics should not resolve", func() {
				_, err := r.Resolve("/devices/d2/config")
				So(errors.Is(err, types.ErrNotFound), ShouldBeTrue)
			})

			Convey("The last recorded target should win", func() {
				r.RecordSubscription("/devices/d1/config", DeviceTarget("d1", addr2))
				target, err := r.Resolve("/devices/d1/config")
				So(err, ShouldBeNil)
				So(target.Addr, ShouldEqual, addr2)
				So(r.Subscriptions(), ShouldHaveLength, 3)
			})

			Convey("When removing the device", func() {
				removed := r.RemoveDevice("d1")
				Convey("Its subscriptions should be removed", func() {
					So(removed, ShouldEqual, 2)
					So(r.Subscriptions(), ShouldResemble, []string{"/devices/gw/config"})
					_, err := r.Resolve("/devices/d1/commands/reboot")
					So(errors.Is(err, types.ErrNotFound), ShouldBeTrue)
				})
			})
		})
	})
}

func TestMatch(t *testing.T) {
	Convey("Topic filters should match MQTT topics", t, func() {
		So(Match("/devices/d1/config", "/devices/d1/config"), ShouldBeTrue)
		So(Match("/devices/d1/config", "/devices/d1/configs"), ShouldBeFalse)
		So(Match("/devices/+/config", "/devices/d1/config"), ShouldBeTrue)
		So(Match("/devices/+/config", "/devices/d1/x/config"), ShouldBeFalse)
		So(Match("/devices/d1/commands/#", "/devices/d1/commands"), ShouldBeTrue)
		So(Match("/devices/d1/commands/#", "/devices/d1/commands/a/b"), ShouldBeTrue)
		So(Match("/devices/d1/commands/#", "/devices/d2/commands/a"), ShouldBeFalse)
		So(Match("#", "/devices/d1/events"), ShouldBeTrue)
		So(Match("/devices/d1", "/devices/d1/config"), ShouldBeFalse)
	})
}
