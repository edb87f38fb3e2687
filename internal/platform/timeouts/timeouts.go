// Package timeouts defines shared timeout constants used across the service.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// StoreLookup caps a single admission lookup against the project store or
// the revocation list.
const StoreLookup = 3 * time.Second

// Generation is the default bound for one assistant completion.
const Generation = 30 * time.Second

// HTTPClient caps outbound HTTP calls to generation providers.
const HTTPClient = 60 * time.Second

// WriteFrame caps one outbound websocket frame write.
const WriteFrame = 10 * time.Second
