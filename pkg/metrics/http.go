package metrics

import (
	"net/http"
	"time"
)

// Timeout policy shared by every HTTP surface the service exposes. Read
// and write are sized for a base64-framed attachment on the payload
// endpoints; header and idle bounds cap slow or stalled clients.
const (
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 15 * time.Second
	httpWriteTimeout      = 15 * time.Second
	httpIdleTimeout       = 120 * time.Second
)

// NewHTTPServer returns an http.Server with the service-wide timeout
// policy applied. Both the chat API and the observability server go
// through this so the limits stay in one place.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		WriteTimeout:      httpWriteTimeout,
		IdleTimeout:       httpIdleTimeout,
	}
}
