// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	redis "gopkg.in/redis.v5"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/TheThingsNetwork/go-utils/rate"
	"github.com/TheThingsNetwork/udp-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Limits of at most MaxDevices devices are kept. Limits of a device that is
// silent for IdleTime are forgotten.
var (
	MaxDevices = 4096
	IdleTime   = 2 * time.Minute
)

// Limits per minute
type Limits struct {
	Requests int
	Events   int
	Downlink int
}

// Enabled returns whether any limit is set
func (l Limits) Enabled() bool {
	return l.Requests != 0 || l.Events != 0 || l.Downlink != 0
}

// NewRateLimit returns a middleware that rate-limits requests, events and downlink messages per device
func NewRateLimit(conf Limits) *RateLimit {
	return &RateLimit{
		log:     log.Get(),
		limits:  conf,
		devices: expirable.NewLRU[string, *limits](MaxDevices, nil, IdleTime),
	}
}

// NewRedisRateLimit returns a middleware that rate-limits requests, events and downlink messages per device
func NewRedisRateLimit(client *redis.Client, conf Limits) *RateLimit {
	l := NewRateLimit(conf)
	l.client = client
	return l
}

// RateLimit requests, events and downlink messages per device
type RateLimit struct {
	log    log.Interface
	limits Limits
	client *redis.Client

	mu      sync.Mutex
	devices *expirable.LRU[string, *limits]
}

func (l *RateLimit) newLimiter(deviceID, kind string, perMinute int) rate.Limiter {
	if perMinute == 0 {
		return nil
	}
	var counter rate.Counter
	if l.client != nil {
		counter = rate.NewRedisCounter(l.client, fmt.Sprintf("ratelimit:%s:%s", deviceID, kind), time.Second, time.Minute)
	} else {
		counter = rate.NewCounter(time.Second, time.Minute)
	}
	return rate.NewLimiter(counter, time.Minute, uint64(perMinute))
}

func (l *RateLimit) newLimits(deviceID string) *limits {
	return &limits{
		requests: l.newLimiter(deviceID, "requests", l.limits.Requests),
		events:   l.newLimiter(deviceID, "events", l.limits.Events),
		downlink: l.newLimiter(deviceID, "downlink", l.limits.Downlink),
	}
}

type limits struct {
	requests rate.Limiter
	events   rate.Limiter
	downlink rate.Limiter
}

// get the limits of a device and renew its idle time
func (l *RateLimit) get(deviceID string) *limits {
	l.mu.Lock()
	defer l.mu.Unlock()
	limits, ok := l.devices.Get(deviceID)
	if !ok {
		limits = l.newLimits(deviceID)
	}
	l.devices.Add(deviceID, limits)
	return limits
}

// ErrRateLimited is returned if the rate limit has been reached
var ErrRateLimited = errors.New("rate limit reached")

func check(limiter rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	limit, err := limiter.Limit()
	if err != nil {
		return err
	}
	if limit {
		return ErrRateLimited
	}
	return nil
}

// HandleRequest rate-limits requests and events. Limits of a device are cleaned up when it detaches
func (l *RateLimit) HandleRequest(ctx middleware.Context, msg *types.DeviceRequest) error {
	limits := l.get(msg.DeviceID)
	if msg.Action == types.ActionDetach {
		l.devices.Remove(msg.DeviceID)
	}
	if err := check(limits.requests); err != nil {
		return err
	}
	if msg.Action == types.ActionEvent {
		return check(limits.events)
	}
	return nil
}

// HandleDownlink rate-limits downlink messages
func (l *RateLimit) HandleDownlink(ctx middleware.Context, msg *types.Downlink) error {
	return check(l.get(msg.DeviceID).downlink)
}
