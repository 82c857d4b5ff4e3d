// Package source defines the boundary between the refresh orchestrator and
// the per-provider usage clients.
package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/tokligence/quotabar/internal/usage"
)

// Client fetches the current usage snapshot for one source. Implementations
// are stateless per call; credentials are resolved at fetch time.
type Client interface {
	Source() usage.Source
	Fetch(ctx context.Context) (usage.Snapshot, error)
}

// ErrKind classifies a fetch failure. The orchestrator only branches on the
// kind; the wrapped error carries the detail.
type ErrKind string

const (
	// KindNotAuthenticated means credentials are missing or rejected.
	// Not worth retrying within the same cycle.
	KindNotAuthenticated ErrKind = "not_authenticated"
	// KindTransientNetwork covers timeouts, connection and DNS failures.
	// The next scheduled cycle is the retry.
	KindTransientNetwork ErrKind = "transient_network"
	// KindRemoteRejected means the remote answered with an application
	// error (rate limited, malformed request, server fault).
	KindRemoteRejected ErrKind = "remote_rejected"
	// KindDecodeFailed means the response arrived but did not match the
	// expected shape.
	KindDecodeFailed ErrKind = "decode_failed"
)

// FetchError is the classified failure returned by source clients. Body
// holds a truncated copy of the raw response for decode failures so the
// mismatch can be diagnosed from logs.
type FetchError struct {
	Source usage.Source
	Kind   ErrKind
	Err    error
	Body   string
}

func (e *FetchError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: %s: %v (body: %s)", e.Source, e.Kind, e.Err, e.Body)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err with a source and classification.
func NewFetchError(src usage.Source, kind ErrKind, err error) *FetchError {
	return &FetchError{Source: src, Kind: kind, Err: err}
}

// KindOf extracts the classification from err, or KindTransientNetwork when
// err is not a FetchError (unclassified failures are treated as retryable).
func KindOf(err error) ErrKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransientNetwork
}

const maxBodyContext = 512

// TruncateBody bounds a raw response body for diagnostic embedding.
func TruncateBody(body []byte) string {
	if len(body) > maxBodyContext {
		return string(body[:maxBodyContext]) + "...(truncated)"
	}
	return string(body)
}

// ClassifyTransport classifies an error returned by http.Client.Do.
// Context cancellation, deadlines, DNS and connection failures are all
// transient: the remote was never reached or never answered.
func ClassifyTransport(src usage.Source, err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewFetchError(src, KindTransientNetwork, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return NewFetchError(src, KindTransientNetwork, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewFetchError(src, KindTransientNetwork, err)
	}
	return NewFetchError(src, KindTransientNetwork, err)
}

// ClassifyStatus classifies a non-2xx HTTP response.
func ClassifyStatus(src usage.Source, status int, body []byte) *FetchError {
	err := fmt.Errorf("unexpected status %d", status)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewFetchError(src, KindNotAuthenticated, err)
	default:
		fe := NewFetchError(src, KindRemoteRejected, err)
		fe.Body = TruncateBody(body)
		return fe
	}
}
