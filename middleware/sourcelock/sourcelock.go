// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package sourcelock binds a device ID to the address it sends its requests
// from, so that other hosts can not send requests on behalf of the device.
package sourcelock

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/TheThingsNetwork/udp-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
)

// NewSourceLock returns a middleware that rejects requests of a device from
// another address than the last one, until the device has been silent for cacheTime.
func NewSourceLock(withPort bool, cacheTime time.Duration) *SourceLock {
	c := &SourceLock{
		log:       log.Get(),
		withPort:  withPort,
		cacheTime: cacheTime,
		sources:   make(map[string]source),
		done:      make(chan struct{}),
	}
	if cacheTime > 0 {
		go func() {
			ticker := time.NewTicker(10 * cacheTime)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					c.cleanup()
				case <-c.done:
					return
				}
			}
		}()
	}
	return c
}

// SourceLock middleware
type SourceLock struct {
	log       log.Interface
	withPort  bool
	cacheTime time.Duration
	done      chan struct{}

	mu      sync.Mutex
	sources map[string]source
}

type source struct {
	lastSeen time.Time
	addr     *net.UDPAddr
}

func (c *SourceLock) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for deviceID, source := range c.sources {
		if time.Since(source.lastSeen) > c.cacheTime {
			delete(c.sources, deviceID)
		}
	}
}

// Set binds the device to the address
func (c *SourceLock) Set(deviceID string, addr *net.UDPAddr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.sources[deviceID]; ok {
		if time.Since(existing.lastSeen) < c.cacheTime {
			if c.withPort && existing.addr.Port != addr.Port {
				return fmt.Errorf("sourcelock: inconsistent port for device %s: %d (expected %d)", deviceID, addr.Port, existing.addr.Port)
			}
			if !existing.addr.IP.Equal(addr.IP) {
				return fmt.Errorf("sourcelock: inconsistent IP address for device %s: %s (expected %s)", deviceID, addr.IP, existing.addr)
			}
		}
	}
	c.sources[deviceID] = source{time.Now(), addr}
	return nil
}

// HandleRequest rejects requests from a changed address
func (c *SourceLock) HandleRequest(_ middleware.Context, msg *types.DeviceRequest) error {
	if msg.Addr == nil {
		return nil
	}
	if err := c.Set(msg.DeviceID, msg.Addr); err != nil {
		c.log.WithField("DeviceID", msg.DeviceID).WithError(err).Warn("Rejected request")
		return err
	}
	if msg.Action == types.ActionDetach {
		c.mu.Lock()
		delete(c.sources, msg.DeviceID)
		c.mu.Unlock()
	}
	return nil
}

// Close stops the cleanup of expired sources
func (c *SourceLock) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}
