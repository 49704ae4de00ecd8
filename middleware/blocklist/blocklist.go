// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package blocklist drops requests from devices whose ID or IP address is
// listed in YAML files or on HTTP(S) locations. Files are reloaded when they
// are written.
//
// A list looks like:
//
//	- device: malicious-device
//	- ip: 8.8.8.8
package blocklist

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/TheThingsNetwork/udp-gateway-bridge/middleware"
	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"
)

type blockedItem struct {
	Device string `yaml:"device"`
	IP     string `yaml:"ip"`
}

// NewBlocklist returns a middleware that filters requests from blocked devices
func NewBlocklist(lists ...string) (b *Blocklist, err error) {
	b = &Blocklist{
		log:      log.Get(),
		lists:    make(map[string][]blockedItem),
		ipLookup: make(map[string]bool),
		idLookup: make(map[string]bool),
	}
	b.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, location := range lists {
		if err := b.addList(location); err != nil {
			b.log.WithError(err).WithField("List", location).Warn("Could not add blocklist")
		}
	}
	b.FetchRemotes()
	go func() {
		for e := range b.watcher.Events {
			if e.Op&fsnotify.Write == fsnotify.Write {
				if err := b.read(e.Name); err != nil {
					b.log.WithError(err).WithField("List", e.Name).Warn("Could not reload blocklist")
				}
			}
		}
	}()
	return b, nil
}

// Blocklist middleware
type Blocklist struct {
	log     log.Interface
	watcher *fsnotify.Watcher
	urls    []string

	mu       sync.RWMutex
	lists    map[string][]blockedItem
	ipLookup map[string]bool
	idLookup map[string]bool
}

func (b *Blocklist) addList(location string) error {
	url, err := url.Parse(location)
	if err != nil {
		return err
	}
	switch url.Scheme {
	case "", "file":
		return b.addFile(url.Path)
	case "http", "https":
		return b.addURL(url)
	}
	return errors.New("blocklist: unknown list type")
}

func (b *Blocklist) addFile(filename string) (err error) {
	filename, err = filepath.Abs(filename)
	if err != nil {
		return err
	}
	if err = b.watcher.Add(filename); err != nil {
		return err
	}
	return b.read(filename)
}

func (b *Blocklist) addURL(url *url.URL) error {
	b.urls = append(b.urls, url.String())
	return nil
}

// FetchRemotes fetches remote blocklists
func (b *Blocklist) FetchRemotes() error {
	for _, url := range b.urls {
		if err := b.fetch(url); err != nil {
			b.log.WithError(err).WithField("List", url).Warn("Could not fetch blocklist")
		}
	}
	return nil
}

// Close the blocklist watcher
func (b *Blocklist) Close() {
	b.watcher.Close()
}

func (b *Blocklist) read(filename string) error {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return b.update(filename, contents)
}

func (b *Blocklist) fetch(location string) error {
	resp, err := http.Get(location)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return b.update(location, body)
}

func (b *Blocklist) update(location string, contents []byte) error {
	var blocklist []blockedItem
	if err := yaml.Unmarshal(contents, &blocklist); err != nil {
		return err
	}
	b.mu.Lock()
	b.lists[location] = blocklist
	b.updateLookup()
	b.mu.Unlock()
	b.log.WithField("List", location).WithField("Items", len(blocklist)).Debug("Updated blocklist")
	return nil
}

func (b *Blocklist) updateLookup() {
	var n int
	for _, blocklist := range b.lists {
		n += len(blocklist)
	}
	b.ipLookup = make(map[string]bool, n)
	b.idLookup = make(map[string]bool, n)
	for _, blocklist := range b.lists {
		for _, item := range blocklist {
			if item.IP != "" {
				b.ipLookup[item.IP] = true
			}
			if item.Device != "" {
				b.idLookup[item.Device] = true
			}
		}
	}
}

// Blocklist errors
var (
	ErrBlockedID = errors.New("blocklist: Device ID is blocked")
	ErrBlockedIP = errors.New("blocklist: Device IP is blocked")
)

func (b *Blocklist) check(id string, addr *net.UDPAddr) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.idLookup[id] {
		return ErrBlockedID
	}
	if addr != nil && b.ipLookup[addr.IP.String()] {
		return ErrBlockedIP
	}
	return nil
}

// HandleRequest blocks requests from blocked devices
func (b *Blocklist) HandleRequest(_ middleware.Context, msg *types.DeviceRequest) error {
	return b.check(msg.DeviceID, msg.Addr)
}

// HandleDownlink blocks messages to blocked devices
func (b *Blocklist) HandleDownlink(_ middleware.Context, msg *types.Downlink) error {
	return b.check(msg.DeviceID, msg.Addr)
}
