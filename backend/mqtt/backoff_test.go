// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package mqtt

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestBackoff(t *testing.T) {
	Convey("Given a new Backoff", t, func() {
		b := NewBackoff()

		Convey("The delays should double until the limit", func() {
			var delays []time.Duration
			for {
				delay, err := b.Next()
				if err != nil {
					So(err, ShouldEqual, ErrBackoffExhausted)
					break
				}
				delays = append(delays, delay)
			}
			So(delays, ShouldResemble, []time.Duration{
				1 * time.Second, 2 * time.Second, 4 * time.Second,
				8 * time.Second, 16 * time.Second, 32 * time.Second,
			})

			Convey("It should stay exhausted", func() {
				_, err := b.Next()
				So(err, ShouldEqual, ErrBackoffExhausted)
			})

			Convey("When resetting", func() {
				b.Reset()
				Convey("It should start over", func() {
					delay, err := b.Next()
					So(err, ShouldBeNil)
					So(delay, ShouldEqual, time.Second)
				})
			})
		})
	})
}
