// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package mqtt

import (
	"time"
)

type watchdog struct {
	*time.Timer
}

func newWatchdog(expire time.Duration, callback func()) *watchdog {
	return &watchdog{
		Timer: time.AfterFunc(expire, callback),
	}
}

// Disarm the watchdog. No effect if nil or already expired
func (w *watchdog) Disarm() {
	if w != nil {
		w.Stop()
	}
}
