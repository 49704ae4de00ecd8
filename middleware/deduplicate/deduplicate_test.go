// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package deduplicate

import (
	"fmt"
	"testing"
	"time"

	"github.com/TheThingsNetwork/udp-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	. "github.com/smartystreets/goconvey/convey"
)

func event(data string) *types.DeviceRequest {
	return &types.DeviceRequest{Request: types.Request{
		DeviceID: "test",
		Action:   types.ActionEvent,
		Data:     []byte(data),
	}}
}

func TestDeduplicate(t *testing.T) {
	Convey("Given a new Deduplicate", t, func(c C) {
		now := time.Now()
		i := NewDeduplicate(time.Second)
		i.now = func() time.Time { return now }

		Convey("When sending an event", func() {
			Reset(func() {
				i.HandleRequest(middleware.NewContext(), &types.DeviceRequest{Request: types.Request{DeviceID: "test", Action: types.ActionDetach}})
			})
			err := i.HandleRequest(middleware.NewContext(), event(`{"x":1}`))
			Convey("There should be no error", func() {
				So(err, ShouldBeNil)
			})
			Convey("When sending a duplicate of that event", func() {
				err := i.HandleRequest(middleware.NewContext(), event(`{"x":1}`))
				Convey("There should be an error", func() {
					So(err, ShouldEqual, ErrDuplicateMessage)
				})
			})
			Convey("When sending a duplicate after the window", func() {
				now = now.Add(2 * time.Second)
				err := i.HandleRequest(middleware.NewContext(), event(`{"x":1}`))
				Convey("There should be no error", func() {
					So(err, ShouldBeNil)
				})
			})
			Convey("When sending another event", func() {
				err := i.HandleRequest(middleware.NewContext(), event(`{"x":2}`))
				Convey("There should be no error", func() {
					So(err, ShouldBeNil)
				})
			})
		})
	})
}

func TestDeduplicateDevices(t *testing.T) {
	Convey("Given a new Deduplicate for a limited number of devices", t, func(c C) {
		maxDevices := MaxDevices
		MaxDevices = 100
		Reset(func() {
			MaxDevices = maxDevices
		})
		i := NewDeduplicate(20 * time.Millisecond)

		Convey("When many devices that never attached send events", func() {
			for n := 0; n < 10000; n++ {
				i.HandleRequest(middleware.NewContext(), &types.DeviceRequest{Request: types.Request{
					DeviceID: fmt.Sprintf("spoofed-%d", n),
					Action:   types.ActionEvent,
				}})
			}
			Convey("The number of remembered requests should stay bounded", func() {
				So(i.lastMessage.Len(), ShouldBeLessThanOrEqualTo, 100)
			})
		})

		Convey("When the window has passed", func() {
			i.HandleRequest(middleware.NewContext(), event(`{"x":1}`))
			time.Sleep(100 * time.Millisecond)
			Convey("The last request should be forgotten", func() {
				So(i.lastMessage.Len(), ShouldEqual, 0)
			})
		})
	})
}
