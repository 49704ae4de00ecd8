// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package statusserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	. "github.com/smartystreets/goconvey/convey"
)

func getStatus(srv *httptest.Server, key string) (*http.Response, *Status) {
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/status", nil)
	So(err, ShouldBeNil)
	if key != "" {
		req.Header.Set("Authorization", "Key "+key)
	}
	res, err := http.DefaultClient.Do(req)
	So(err, ShouldBeNil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return res, nil
	}
	var status Status
	So(json.NewDecoder(res.Body).Decode(&status), ShouldBeNil)
	return res, &status
}

func TestStatusServer(t *testing.T) {
	Convey("Given an empty default StatusServer", t, func(c C) {

		global = newStatusServer()

		srv := httptest.NewServer(Handler())
		Reset(func() { srv.Close() })

		Convey("When requesting the status", func() {
			res, status := getStatus(srv, "")
			Convey("There should be no error", func() {
				So(res.StatusCode, ShouldEqual, http.StatusOK)
				So(res.Header.Get("Content-Type"), ShouldEqual, "application/json")
			})
			Convey("Rates should be empty", func() {
				So(status.Request.Rate1, ShouldEqual, 0)
				So(status.Event.Rate1, ShouldEqual, 0)
				So(status.Relay.Rate1, ShouldEqual, 0)
				So(status.AttachedDevices, ShouldEqual, 0)
				So(status.Connection, ShouldEqual, "Disconnected")
			})
		})

		Convey("When registering traffic", func() {
			Request()
			Event()
			Relay()
			SetConnection("Connected")
			Convey("The meters should count it", func() {
				So(global.request.Count(), ShouldEqual, 1)
				So(global.event.Count(), ShouldEqual, 1)
				So(global.relay.Count(), ShouldEqual, 1)
			})
			Convey("The connection state should be returned", func() {
				_, status := getStatus(srv, "")
				So(status.Connection, ShouldEqual, "Connected")
			})
		})

		Convey("When attaching a device", func() {
			AttachDevice()
			Convey("When requesting the status", func() {
				_, status := getStatus(srv, "")
				Convey("The device should be counted", func() {
					So(status.AttachedDevices, ShouldEqual, 1)
				})
			})
			Convey("When detaching the device", func() {
				DetachDevice()
				Convey("The device should no longer be counted", func() {
					So(global.attachedDevices.Count(), ShouldEqual, 0)
				})
			})
		})

		Convey("When an access key is required", func() {
			AddAccessKey("secret")
			Convey("Requests without the key should be refused", func() {
				res, _ := getStatus(srv, "")
				So(res.StatusCode, ShouldEqual, http.StatusUnauthorized)
			})
			Convey("Requests with the key should be accepted", func() {
				res, _ := getStatus(srv, "secret")
				So(res.StatusCode, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When posting to the status", func() {
			res, err := http.Post(srv.URL+"/status", "application/json", strings.NewReader("{}"))
			So(err, ShouldBeNil)
			res.Body.Close()
			Convey("It should not be allowed", func() {
				So(res.StatusCode, ShouldEqual, http.StatusMethodNotAllowed)
			})
		})

		Convey("When requesting the metrics", func() {
			res, err := http.Get(srv.URL + "/metrics")
			So(err, ShouldBeNil)
			res.Body.Close()
			Convey("They should be served", func() {
				So(res.StatusCode, ShouldEqual, http.StatusOK)
			})
		})
	})
}
