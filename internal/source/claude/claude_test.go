package claude

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tokligence/quotabar/internal/source"
	"github.com/tokligence/quotabar/internal/testutil"
	"github.com/tokligence/quotabar/internal/usage"
)

func writeCredentials(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}
	return path
}

const validCreds = `{"claudeAiOauth":{"accessToken":"sk-ant-oat-test","expiresAt":0}}`

func TestNew(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without credentials path")
	}
	c, err := New(Config{CredentialsPath: "/tmp/creds.json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.baseURL != "https://api.anthropic.com" {
		t.Fatalf("default base URL = %q", c.baseURL)
	}
}

func TestFetchSuccess(t *testing.T) {
	reset := time.Now().Add(3 * time.Hour).UTC().Truncate(time.Second)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/oauth/usage", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-ant-oat-test" {
			t.Errorf("authorization header = %q", got)
		}
		testutil.RespondJSON(t, w, http.StatusOK, map[string]any{
			"five_hour": map[string]any{"utilization": 42.5, "resets_at": reset},
			"seven_day": map[string]any{"utilization": 61.0, "resets_at": reset.Add(24 * time.Hour)},
		})
	})
	srv := testutil.NewLoopbackServer(t, mux)

	c, err := New(Config{CredentialsPath: writeCredentials(t, validCreds), BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snap, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.Source != usage.SourceClaude {
		t.Fatalf("source = %s", snap.Source)
	}
	session, ok := snap.Window(usage.WindowSession)
	if !ok {
		t.Fatalf("session window missing")
	}
	if session.Used != 42.5 || session.Total != 100 {
		t.Fatalf("session window = %+v", session)
	}
	if session.ResetsAt == nil || !session.ResetsAt.Equal(reset) {
		t.Fatalf("session reset = %v, want %v", session.ResetsAt, reset)
	}
	if _, ok := snap.Window(usage.WindowWeekly); !ok {
		t.Fatalf("weekly window missing")
	}
	if _, ok := snap.Window(usage.WindowSecondary); ok {
		t.Fatalf("secondary window unexpectedly present")
	}
}

func TestFetchClassification(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    source.ErrKind
	}{
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			want: source.KindNotAuthenticated,
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			want: source.KindRemoteRejected,
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>gateway error</html>"))
			},
			want: source.KindDecodeFailed,
		},
		{
			name: "json without windows",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"unexpected":true}`))
			},
			want: source.KindDecodeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/oauth/usage", tt.handler)
			srv := testutil.NewLoopbackServer(t, mux)

			c, err := New(Config{CredentialsPath: writeCredentials(t, validCreds), BaseURL: srv.URL})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = c.Fetch(context.Background())
			if err == nil {
				t.Fatalf("expected fetch error")
			}
			var fe *source.FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("error not classified: %v", err)
			}
			if fe.Kind != tt.want {
				t.Fatalf("kind = %s, want %s", fe.Kind, tt.want)
			}
		})
	}
}

func TestFetchCredentialFailures(t *testing.T) {
	srv := testutil.NewLoopbackServer(t, nil)

	tests := []struct {
		name  string
		creds string
	}{
		{name: "missing file", creds: ""},
		{name: "empty token", creds: `{"claudeAiOauth":{"accessToken":""}}`},
		{name: "expired token", creds: `{"claudeAiOauth":{"accessToken":"tok","expiresAt":1}}`},
		{name: "not json", creds: `not-json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "credentials.json")
			if tt.creds != "" {
				path = writeCredentials(t, tt.creds)
			}
			c, err := New(Config{CredentialsPath: path, BaseURL: srv.URL})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = c.Fetch(context.Background())
			if got := source.KindOf(err); got != source.KindNotAuthenticated {
				t.Fatalf("kind = %s, want %s (err=%v)", got, source.KindNotAuthenticated, err)
			}
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/oauth/usage", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	srv := testutil.NewLoopbackServer(t, mux)

	c, err := New(Config{
		CredentialsPath: writeCredentials(t, validCreds),
		BaseURL:         srv.URL,
		RequestTimeout:  20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Fetch(context.Background())
	if got := source.KindOf(err); got != source.KindTransientNetwork {
		t.Fatalf("kind = %s, want %s (err=%v)", got, source.KindTransientNetwork, err)
	}
}
