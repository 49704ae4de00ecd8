// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package deduplicate

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/TheThingsNetwork/udp-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MaxDevices is the number of devices of which the last request is kept
var MaxDevices = 4096

// NewDeduplicate returns a middleware that drops requests that a device repeats within the window
func NewDeduplicate(window time.Duration) *Deduplicate {
	return &Deduplicate{
		log:         log.Get(),
		window:      window,
		now:         time.Now,
		lastMessage: expirable.NewLRU[string, lastMessage](MaxDevices, nil, window),
	}
}

type lastMessage struct {
	request  types.Request
	received time.Time
}

// Deduplicate middleware
type Deduplicate struct {
	log         log.Interface
	window      time.Duration
	now         func() time.Time
	mu          sync.Mutex
	lastMessage *expirable.LRU[string, lastMessage]
}

// ErrDuplicateMessage is returned when a request is received multiple times
var ErrDuplicateMessage = errors.New("deduplicate: already handled this message")

func equal(a, b types.Request) bool {
	return a.Action == b.Action &&
		a.JWT == b.JWT &&
		bytes.Equal(a.Data, b.Data) // length check on slice is fast
}

// HandleRequest blocks duplicate requests. The last request of a device is forgotten when it detaches or
// after the window
func (d *Deduplicate) HandleRequest(_ middleware.Context, msg *types.DeviceRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if last, ok := d.lastMessage.Peek(msg.DeviceID); ok {
		if now.Sub(last.received) < d.window && equal(msg.Request, last.request) {
			d.log.WithField("DeviceID", msg.DeviceID).Debug("Drop duplicate request")
			return ErrDuplicateMessage
		}
	}
	if msg.Action == types.ActionDetach {
		d.lastMessage.Remove(msg.DeviceID)
		return nil
	}
	d.lastMessage.Add(msg.DeviceID, lastMessage{msg.Request, now})
	return nil
}
