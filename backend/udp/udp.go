// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package udp

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/TheThingsNetwork/udp-gateway-bridge/backend"
	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/pkg/errors"
)

// BufferSize indicates the maximum number of datagrams that should be queued between two polls
var BufferSize = 256

// MaxDatagramSize is the size of the read buffer; longer datagrams are truncated
var MaxDatagramSize = 4096

// Config contains configuration for the UDP relay
type Config struct {
	Bind string
}

// New returns a new UDP relay that listens on the configured address
func New(config Config, ctx log.Interface) (*Relay, error) {
	addr, err := net.ResolveUDPAddr("udp", config.Bind)
	if err != nil {
		return nil, errors.Wrap(types.ErrConfig, err.Error())
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrap(types.ErrConfig, err.Error())
	}

	r := &Relay{
		ctx:       ctx.WithField("Connector", "UDP"),
		conn:      conn,
		datagrams: make(chan *types.Datagram, BufferSize),
	}
	r.ctx.WithField("Address", conn.LocalAddr()).Info("Listening for devices")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := r.readPackets()
		if atomic.LoadInt32(&r.closed) == 0 {
			r.ctx.WithError(err).Error("Stopped reading datagrams")
		}
	}()

	return r, nil
}

// Relay of datagrams between devices and the bridge
type Relay struct {
	ctx       log.Interface
	conn      *net.UDPConn
	datagrams chan *types.Datagram
	closed    int32
	wg        sync.WaitGroup
}

// Addr returns the local address of the relay
func (r *Relay) Addr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

func (r *Relay) readPackets() error {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return fmt.Errorf("Read from udp error: %s", err)
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case r.datagrams <- &types.Datagram{Addr: addr, Payload: data}:
		default:
			r.ctx.WithField("Address", addr).Warn("Could not handle datagram: buffer full")
		}
	}
}

// Poll implements the Southbound interface. It returns backend.ErrWouldBlock if no datagram is queued
func (r *Relay) Poll() (*types.Datagram, error) {
	select {
	case datagram := <-r.datagrams:
		return datagram, nil
	default:
		return nil, backend.ErrWouldBlock
	}
}

// Discard implements the Southbound interface
func (r *Relay) Discard() (discarded int) {
	for {
		select {
		case <-r.datagrams:
			discarded++
		default:
			return
		}
	}
}

// Send implements the Southbound interface
func (r *Relay) Send(addr *net.UDPAddr, payload []byte) error {
	if addr == nil || addr.Port < 1 || addr.Port > 65535 {
		return fmt.Errorf("Not sending to invalid udp address %v", addr)
	}
	r.ctx.WithFields(log.Fields{
		"Address": addr,
		"Size":    len(payload),
	}).Debug("Sending datagram")
	_, err := r.conn.WriteToUDP(payload, addr)
	return err
}

// Close implements the Southbound interface
func (r *Relay) Close() error {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return nil
	}
	r.ctx.Info("Closing UDP relay")
	if err := r.conn.Close(); err != nil {
		return err
	}
	r.wg.Wait()
	return nil
}
