// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package middleware

import (
	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
)

// Context for middleware
type Context interface {
	Set(k, v interface{})
	Get(k interface{}) interface{}
}

// NewContext returns a new middleware context
func NewContext() Context {
	return &context{
		data: make(map[interface{}]interface{}),
	}
}

type context struct {
	data map[interface{}]interface{}
}

func (c *context) Set(k, v interface{}) {
	c.data[k] = v
}

func (c *context) Get(k interface{}) interface{} {
	if v, ok := c.data[k]; ok {
		return v
	}
	return nil
}

// Chain of middleware
type Chain []interface{}

// Execute the chain
func (c Chain) Execute(ctx Context, msg interface{}) error {
	switch msg := msg.(type) {
	case *types.DeviceRequest:
		return c.filterRequest().Execute(ctx, msg)
	case *types.Downlink:
		return c.filterDownlink().Execute(ctx, msg)
	}
	return nil
}

// Request middleware handles requests from devices
type Request interface {
	HandleRequest(Context, *types.DeviceRequest) error
}

type requestChain []Request

func (c requestChain) Execute(ctx Context, msg *types.DeviceRequest) error {
	for _, middleware := range c {
		err := middleware.HandleRequest(ctx, msg)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) filterRequest() (filtered requestChain) {
	for _, middleware := range c {
		if c, ok := middleware.(Request); ok {
			filtered = append(filtered, c)
		}
	}
	return
}

// Downlink middleware handles messages that are relayed to devices
type Downlink interface {
	HandleDownlink(Context, *types.Downlink) error
}

type downlinkChain []Downlink

func (c downlinkChain) Execute(ctx Context, msg *types.Downlink) error {
	for _, middleware := range c {
		err := middleware.HandleDownlink(ctx, msg)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) filterDownlink() (filtered downlinkChain) {
	for _, middleware := range c {
		if c, ok := middleware.(Downlink); ok {
			filtered = append(filtered, c)
		}
	}
	return
}

// Closer is implemented by middleware that holds resources
type Closer interface {
	Close()
}

// Close all middleware in the chain that hold resources
func (c Chain) Close() {
	for _, middleware := range c {
		if c, ok := middleware.(Closer); ok {
			c.Close()
		}
	}
}
