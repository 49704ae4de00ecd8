// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package mqtt

import (
	"sync/atomic"
	"time"

	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Unacknowledged publishes and subscribes are forgotten after PendingTTL, or
// when more than PendingLimit are outstanding
var (
	PendingTTL   = time.Minute
	PendingLimit = 1024
)

type pendingKind uint8

const (
	pendingPublish pendingKind = iota
	pendingSubscribe
)

type pendingRecord struct {
	id       types.MessageID
	kind     pendingKind
	topic    string
	created  time.Time
	resolved atomic.Bool
}

// pending tracks unacknowledged messages. Records leave by resolve, by
// eviction when the limit is reached or by expiry after the TTL; the last two
// are counted until the next drain.
type pending struct {
	ttl     time.Duration
	records *expirable.LRU[types.MessageID, *pendingRecord]
	evicted atomic.Int64
	expired atomic.Int64
}

func newPending(ttl time.Duration, limit int) *pending {
	p := &pending{ttl: ttl}
	p.records = expirable.NewLRU[types.MessageID, *pendingRecord](limit, p.onEvict, ttl)
	return p
}

// onEvict is called by the LRU for every record that leaves it, also from its
// expiry goroutine
func (p *pending) onEvict(_ types.MessageID, record *pendingRecord) {
	if record.resolved.Load() {
		return
	}
	if time.Since(record.created) >= p.ttl {
		p.expired.Add(1)
	} else {
		p.evicted.Add(1)
	}
}

func (p *pending) add(id types.MessageID, kind pendingKind, topic string) {
	p.records.Add(id, &pendingRecord{id: id, kind: kind, topic: topic, created: time.Now()})
}

// resolve removes and returns the record of an acknowledgement. Records of
// another kind are left in place.
func (p *pending) resolve(id types.MessageID, kind pendingKind) (*pendingRecord, bool) {
	record, ok := p.records.Peek(id)
	if !ok || record.kind != kind {
		return nil, false
	}
	record.resolved.Store(true)
	p.records.Remove(id)
	return record, true
}

// drain returns and resets the number of evicted and expired records
func (p *pending) drain() (evicted, expired int) {
	return int(p.evicted.Swap(0)), int(p.expired.Swap(0))
}

// clear forgets all records without counting them
func (p *pending) clear() {
	for _, record := range p.records.Values() {
		record.resolved.Store(true)
	}
	p.records.Purge()
	p.drain()
}

func (p *pending) len() int {
	return p.records.Len()
}
