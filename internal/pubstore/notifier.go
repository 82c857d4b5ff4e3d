package pubstore

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Notifier tells the out-of-process consumer's scheduler that new data was
// published. Fire-and-forget: no acknowledgment, no delivery guarantee, and
// the absence of a listener is not an error.
type Notifier struct {
	endpoint   string
	installID  string
	httpClient *http.Client
	logger     *log.Logger
}

// NewNotifier creates a notifier posting to endpoint. An empty endpoint
// disables notification entirely.
func NewNotifier(endpoint, installID string, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.New(log.Writer(), "[pubstore/notify] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Notifier{
		endpoint:   endpoint,
		installID:  installID,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

type notifyPayload struct {
	InstallID   string    `json:"install_id"`
	PublishedAt time.Time `json:"published_at"`
}

// Notify signals "data changed, re-read soon". Failures are logged and
// dropped; the consumer's own schedule is the fallback delivery path.
func (n *Notifier) Notify(ctx context.Context) {
	if n.endpoint == "" {
		return
	}
	body, err := json.Marshal(notifyPayload{InstallID: n.installID, PublishedAt: time.Now().UTC()})
	if err != nil {
		n.logger.Printf("encode notify payload: %v", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		n.logger.Printf("build notify request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		// No listener is normal when the widget is not running.
		n.logger.Printf("notify skipped: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Printf("notify listener answered %d", resp.StatusCode)
	}
}
