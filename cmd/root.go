// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/apex/log"
	"github.com/spf13/cobra"
)

var ctx *log.Logger

var logFile *os.File

// Execute runs the gateway bridge and is called by main.go. It exits with a non-zero status when the bridge fails.
//
// A panic in the main goroutine unwinds through runBridge, so the bridge is
// stopped and the middleware closed before it is logged here. Panics in other
// goroutines (paho handlers, the UDP reader, the status server) cannot be
// recovered here: they crash the process without stopping the bridge.
func Execute() {
	defer func() {
		thePanic := recover()
		if thePanic == nil {
			return
		}
		if ctx == nil {
			panic(thePanic)
		}
		panicContext(thePanic).Fatal("Gateway bridge stopped because of panic")
	}()

	if err := BridgeCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// panicContext adds the panic and the stack of the panicking goroutine
func panicContext(thePanic interface{}) log.Interface {
	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, false)
	return ctx.WithFields(log.Fields{
		"Panic": fmt.Sprint(thePanic),
		"Stack": string(buf[:n]),
	})
}

func init() {
	cobra.OnInitialize(initConfig)
}
