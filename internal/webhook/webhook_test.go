package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mlutz/fragsyncd/internal/config"
)

type mockGitClient struct {
	calls     atomic.Int32
	repoSetup func(destDir string)
}

func (m *mockGitClient) EnsureCheckout(_ context.Context, _, _, destDir string) (string, error) {
	m.calls.Add(1)
	if m.repoSetup != nil {
		m.repoSetup(destDir)
	}
	return "abc123", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testServeConfig(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()
	return &config.Config{
		Repo:  config.RepoConfig{URL: "git@github.com:test/fragments.git", Ref: "main"},
		Paths: config.PathsConfig{StateDir: filepath.Join(tmpDir, "state")},
		Sync:  config.SyncConfig{BackupSuffix: ".bak"},
		Categories: []config.Category{
			{Name: "credentials", Dest: filepath.Join(tmpDir, "dest", "credentials")},
		},
		Serve: config.ServeConfig{
			Enabled:           true,
			ListenAddr:        "127.0.0.1:0",
			AllowedEventTypes: []string{"push"},
			AllowedRefs:       []string{"refs/heads/main"},
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, gitClient *mockGitClient, debounce time.Duration) *Server {
	t.Helper()
	return &Server{
		cfg:      cfg,
		git:      gitClient,
		logger:   testLogger(),
		secret:   []byte("test-secret"),
		debounce: &debouncer{delay: debounce},
	}
}

// sign computes the GitHub signature header for body.
func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postEvent(s *Server, eventType, signature, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", eventType)
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	s.handleWebhook(rec, req)
	return rec
}

func TestNewServer_ReadsSecretFile(t *testing.T) {
	secretFile := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(secretFile, []byte("  hush \n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := testServeConfig(t)
	cfg.Serve.GitHubWebhookSecretFile = secretFile

	s, err := NewServer(cfg, &mockGitClient{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if string(s.secret) != "hush" {
		t.Errorf("secret = %q, want trimmed %q", s.secret, "hush")
	}
}

func TestNewServer_MissingSecretFile(t *testing.T) {
	cfg := testServeConfig(t)
	cfg.Serve.GitHubWebhookSecretFile = filepath.Join(t.TempDir(), "nope")

	if _, err := NewServer(cfg, &mockGitClient{}, testLogger()); err == nil {
		t.Error("expected error for missing secret file")
	}
}

func TestVerifySignature(t *testing.T) {
	s := newTestServer(t, testServeConfig(t), &mockGitClient{}, time.Second)
	body := []byte(`{"ref":"refs/heads/main"}`)

	tests := []struct {
		name      string
		signature string
		want      bool
	}{
		{name: "valid", signature: sign(body), want: true},
		{name: "missing", signature: "", want: false},
		{name: "wrong prefix", signature: "sha1=abcdef", want: false},
		{name: "tampered", signature: "sha256=" + strings.Repeat("0", 64), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.verifySignature(body, tt.signature); got != tt.want {
				t.Errorf("verifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleWebhook_RejectsBadRequests(t *testing.T) {
	s := newTestServer(t, testServeConfig(t), &mockGitClient{}, time.Second)
	body := `{"ref":"refs/heads/main"}`

	t.Run("non-POST", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		s.handleWebhook(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
		}
	})

	t.Run("wrong content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("Content-Type", "text/plain")
		rec := httptest.NewRecorder()
		s.handleWebhook(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		rec := postEvent(s, "push", "sha256="+strings.Repeat("0", 64), body)
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
		}
	})

	t.Run("invalid payload", func(t *testing.T) {
		bad := "{not json"
		rec := postEvent(s, "push", sign([]byte(bad)), bad)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestHandleWebhook_FiltersEventsAndRefs(t *testing.T) {
	gitClient := &mockGitClient{}
	s := newTestServer(t, testServeConfig(t), gitClient, 10*time.Millisecond)

	t.Run("disallowed event type", func(t *testing.T) {
		body := `{"ref":"refs/heads/main"}`
		rec := postEvent(s, "ping", sign([]byte(body)), body)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if !strings.Contains(rec.Body.String(), "Event type not configured") {
			t.Errorf("body = %q", rec.Body.String())
		}
	})

	t.Run("disallowed ref", func(t *testing.T) {
		body := `{"ref":"refs/heads/feature"}`
		rec := postEvent(s, "push", sign([]byte(body)), body)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if !strings.Contains(rec.Body.String(), "Ref not configured") {
			t.Errorf("body = %q", rec.Body.String())
		}
	})

	// Filtered requests must never reach git.
	time.Sleep(50 * time.Millisecond)
	if gitClient.calls.Load() != 0 {
		t.Errorf("git called %d times for filtered events", gitClient.calls.Load())
	}
}

func TestHandleWebhook_TriggersSync(t *testing.T) {
	cfg := testServeConfig(t)
	gitClient := &mockGitClient{
		repoSetup: func(destDir string) {
			path := filepath.Join(destDir, "credentials.2024-0301.work")
			if err := os.MkdirAll(destDir, 0755); err != nil {
				panic(err)
			}
			if err := os.WriteFile(path, []byte("[work]\nkey=1\n"), 0600); err != nil {
				panic(err)
			}
		},
	}
	s := newTestServer(t, cfg, gitClient, 10*time.Millisecond)

	body := `{"ref":"refs/heads/main","after":"abc123","repository":{"full_name":"test/fragments"}}`
	rec := postEvent(s, "push", sign([]byte(body)), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	// The debounced sync runs in the background; wait for it to land.
	dest := cfg.Categories[0].Dest
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(dest); err == nil {
			if string(data) != "[work]\nkey=1\n" {
				t.Fatalf("destination = %q", data)
			}
			if gitClient.calls.Load() == 0 {
				t.Fatal("git was never called")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("sync did not run within deadline (git calls: %d)", gitClient.calls.Load())
}

func TestDebouncer_CollapsesBursts(t *testing.T) {
	d := &debouncer{delay: 50 * time.Millisecond}

	var runs atomic.Int32
	for i := 0; i < 5; i++ {
		d.trigger(func() { runs.Add(1) })
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("callback ran %d times, want 1", got)
	}
}

func TestPerformSync_SingleFlightWithPendingRerun(t *testing.T) {
	cfg := testServeConfig(t)
	release := make(chan struct{})
	gitClient := &mockGitClient{
		repoSetup: func(destDir string) {
			<-release
			if err := os.MkdirAll(destDir, 0755); err != nil {
				panic(err)
			}
		},
	}
	s := newTestServer(t, cfg, gitClient, time.Second)

	done := make(chan struct{})
	go func() {
		s.performSync(context.Background())
		close(done)
	}()

	// Wait until the first sync is inside the git checkout.
	deadline := time.Now().Add(2 * time.Second)
	for gitClient.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if gitClient.calls.Load() == 0 {
		t.Fatal("first sync never started")
	}

	// These two requests arrive while a sync is running: they must collapse
	// into exactly one pending re-run.
	s.performSync(context.Background())
	s.performSync(context.Background())

	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("performSync did not finish")
	}

	if got := gitClient.calls.Load(); got != 2 {
		t.Errorf("git called %d times, want 2 (initial + one pending re-run)", got)
	}
}
