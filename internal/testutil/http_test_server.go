package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"testing"
)

// LoopbackServer is an HTTP server bound to the IPv4 loopback interface.
// Source client tests point their base URL at it; binding tcp4 explicitly
// avoids IPv6-only loopback surprises in CI sandboxes.
type LoopbackServer struct {
	URL      string
	listener net.Listener
	server   *http.Server
}

// NewLoopbackServer starts the server and registers cleanup with t.
func NewLoopbackServer(t *testing.T, handler http.Handler) *LoopbackServer {
	t.Helper()
	if handler == nil {
		handler = http.NewServeMux()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}
	s := &LoopbackServer{
		URL:      "http://" + l.Addr().String(),
		listener: l,
		server:   &http.Server{Handler: handler},
	}
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("loopback server: %v", err)
		}
	}()
	t.Cleanup(s.Close)
	return s
}

// Close shuts down the underlying server.
func (s *LoopbackServer) Close() {
	_ = s.server.Shutdown(context.Background())
}

// RespondJSON writes v as a JSON response with the given status.
func RespondJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}
