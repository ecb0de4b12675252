// Package wsutil provides a wrapper around the WebSocket driver used by the
// voice gateway, along with the payload codec and the heartbeat pacemaker.
package wsutil

import (
	"log"
	"time"
)

// WSTimeout is the timeout for connecting and writing to the WebSocket, once
// connected.
var WSTimeout = 10 * time.Second

// WSDebug is used for extra debug logging. It is empty by default.
var WSDebug = func(v ...interface{}) {}

// WSError is the default error callback.
var WSError = func(err error) { log.Println("voice gateway error:", err) }
