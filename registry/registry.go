// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package registry keeps track of the devices that are attached through the
// gateway and of the addresses that their subscriptions are relayed to.
package registry

import (
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/deckarep/golang-set"
	"github.com/pkg/errors"
)

// Target of a subscription: either the gateway itself or the UDP address of a device
type Target struct {
	Gateway  bool
	DeviceID string
	Addr     *net.UDPAddr
}

// GatewayTarget is the target of the subscriptions of the gateway itself
var GatewayTarget = Target{Gateway: true}

// DeviceTarget returns the target for a device at the given address
func DeviceTarget(deviceID string, addr *net.UDPAddr) Target {
	return Target{DeviceID: deviceID, Addr: addr}
}

func (t Target) String() string {
	if t.Gateway {
		return "gateway"
	}
	return t.Addr.String()
}

// Registry of attached devices and their subscriptions
type Registry struct {
	mu            sync.RWMutex
	identities    mapset.Set
	subscriptions map[string]Target
}

// New returns a new empty Registry
func New() *Registry {
	return &Registry{
		identities:    mapset.NewThreadUnsafeSet(),
		subscriptions: make(map[string]Target),
	}
}

// RecordIdentity records an attached device. Returns false if it was already attached
func (r *Registry) RecordIdentity(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identities.Add(deviceID)
}

// IsAttached returns whether the device is attached
func (r *Registry) IsAttached(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.identities.Contains(deviceID)
}

// ForgetIdentity forgets an attached device
func (r *Registry) ForgetIdentity(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identities.Remove(deviceID)
}

// Identities returns the attached devices in sorted order
func (r *Registry) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identities := make([]string, 0, r.identities.Cardinality())
	for identity := range r.identities.Iter() {
		identities = append(identities, identity.(string))
	}
	sort.Strings(identities)
	return identities
}

// RecordSubscription records the target of a topic filter. The last recorded target wins
func (r *Registry) RecordSubscription(topicFilter string, target Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions[topicFilter] = target
}

// Subscriptions returns the recorded topic filters in sorted order
func (r *Registry) Subscriptions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]string, 0, len(r.subscriptions))
	for topic := range r.subscriptions {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// RemoveDevice removes all subscriptions of a device
func (r *Registry) RemoveDevice(deviceID string) (removed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for topic, target := range r.subscriptions {
		if !target.Gateway && target.DeviceID == deviceID {
			delete(r.subscriptions, topic)
			removed++
		}
	}
	return
}

// Resolve returns the target for a message on the given topic.
// An exact match is preferred over a matching wildcard filter.
func (r *Registry) Resolve(topic string) (Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if target, ok := r.subscriptions[topic]; ok {
		return target, nil
	}
	var (
		match Target
		best  string
		found bool
	)
	for filter, target := range r.subscriptions {
		if !Match(filter, topic) {
			continue
		}
		// prefer the most specific (longest) filter, deterministically
		if !found || len(filter) > len(best) || (len(filter) == len(best) && filter < best) {
			match, best, found = target, filter, true
		}
	}
	if !found {
		return Target{}, errors.Wrapf(types.ErrNotFound, "no subscription for %s", topic)
	}
	return match, nil
}

// Match returns whether an MQTT topic filter matches a topic.
// "+" matches exactly one level; "#" matches any number of levels, including the parent level.
func Match(filter, topic string) bool {
	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")
	for i, level := range filterLevels {
		if level == "#" {
			return i == len(filterLevels)-1
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != "+" && level != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}
