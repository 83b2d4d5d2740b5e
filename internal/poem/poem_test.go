package poem

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

func TestParseAnalysis(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr bool
		items   int
	}{
		{
			name:  "plain json",
			reply: `{"description":"a desk","story":"work","items":["lamp","mug"]}`,
			items: 2,
		},
		{
			name:  "fenced json",
			reply: "```json\n{\"description\":\"a desk\",\"story\":\"work\",\"items\":[]}\n```",
			items: 0,
		},
		{
			name:    "extra key",
			reply:   `{"description":"a","story":"b","items":[],"mood":"x"}`,
			wantErr: true,
		},
		{
			name:    "missing items",
			reply:   `{"description":"a","story":"b"}`,
			wantErr: true,
		},
		{
			name:    "items not strings",
			reply:   `{"description":"a","story":"b","items":[1,2]}`,
			wantErr: true,
		},
		{
			name:    "prose",
			reply:   "I see a desk with a lamp.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseAnalysis(tt.reply)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAnalysis() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrBadResponse) {
					t.Errorf("error %v is not ErrBadResponse", err)
				}
				return
			}
			if len(a.Items) != tt.items {
				t.Errorf("items = %v, want %d", a.Items, tt.items)
			}
		})
	}
}

func TestOfflineAnalysisIsValid(t *testing.T) {
	if err := OfflineAnalysis().Validate(); err != nil {
		t.Errorf("offline analysis invalid: %v", err)
	}
	if !strings.Contains(OfflineAnalysis().Text(), "Items: light") {
		t.Errorf("Text() = %q", OfflineAnalysis().Text())
	}
}

func TestRetry_Doubles(t *testing.T) {
	r := Retry{Attempts: 3, Delay: 10 * time.Millisecond}

	var calls []time.Time
	start := time.Now()
	err := r.Do(context.Background(), "test", func(context.Context) error {
		calls = append(calls, time.Now())
		return ErrServiceUnavailable
	})

	if !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("Do() error = %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("elapsed %v, want at least 10ms + 20ms of backoff", elapsed)
	}
	if gap := calls[2].Sub(calls[1]); gap < 20*time.Millisecond {
		t.Errorf("second backoff = %v, want >= 20ms", gap)
	}
}

func TestRetry_StopsOnSuccessAndMissingKey(t *testing.T) {
	r := Retry{Attempts: 5, Delay: time.Millisecond}

	n := 0
	err := r.Do(context.Background(), "test", func(context.Context) error {
		n++
		if n < 2 {
			return ErrServiceUnavailable
		}
		return nil
	})
	if err != nil || n != 2 {
		t.Errorf("Do() = %v after %d calls, want nil after 2", err, n)
	}

	n = 0
	err = r.Do(context.Background(), "test", func(context.Context) error {
		n++
		return ErrNoAPIKey
	})
	if !errors.Is(err, ErrNoAPIKey) || n != 1 {
		t.Errorf("Do() = %v after %d calls, want ErrNoAPIKey after 1", err, n)
	}
}

func TestRetry_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := Retry{Attempts: 3, Delay: time.Hour}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, "test", func(context.Context) error { return ErrServiceUnavailable })
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Do() error = %v, want context.Canceled", err)
		}
		if !errors.Is(err, ErrServiceUnavailable) {
			t.Errorf("Do() error = %v, want the last request error kept", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do() ignored cancellation")
	}
}

func TestRetry_Attempts(t *testing.T) {
	tests := []struct {
		name      string
		retry     Retry
		wantCalls int
	}{
		{"zero attempts runs once", Retry{}, 1},
		{"single attempt", Retry{Attempts: 1, Delay: time.Hour}, 1},
		{"zero delay", Retry{Attempts: 4}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := 0
			start := time.Now()
			err := tt.retry.Do(context.Background(), "test", func(context.Context) error {
				n++
				return ErrServiceUnavailable
			})
			if !errors.Is(err, ErrServiceUnavailable) {
				t.Errorf("Do() error = %v", err)
			}
			if n != tt.wantCalls {
				t.Errorf("calls = %d, want %d", n, tt.wantCalls)
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("Do() took %v", elapsed)
			}
		})
	}
}

// lastRequest keeps the most recent request seen by chatServer.
type lastRequest struct {
	mu  sync.Mutex
	req chatRequest
}

func (l *lastRequest) get() chatRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.req
}

// chatServer answers every chat completion with reply, failing the first
// failures requests with 503.
func chatServer(t *testing.T, failures int, reply string) (*httptest.Server, *atomic.Int32, *lastRequest) {
	t.Helper()
	var calls atomic.Int32
	last := &lastRequest{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		last.mu.Lock()
		json.Unmarshal(body, &last.req)
		last.mu.Unlock()

		if int(n) <= failures {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, last
}

func TestChatClient_Complete(t *testing.T) {
	srv, _, last := chatServer(t, 0, "  hello  ")
	c := NewChatClient(srv.URL, "test-key", "m1", time.Second)

	got, err := c.Complete(context.Background(), []chatMessage{{Role: "user", Content: "hi"}}, 10)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "hello" {
		t.Errorf("Complete() = %q, want hello", got)
	}
	if req := last.get(); req.Model != "m1" || req.MaxTokens != 10 {
		t.Errorf("request = %+v", req)
	}
}

func TestChatClient_Errors(t *testing.T) {
	t.Run("no key", func(t *testing.T) {
		c := NewChatClient("http://127.0.0.1:1", "", "m", time.Second)
		if _, err := c.Complete(context.Background(), nil, 0); !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("error = %v, want ErrNoAPIKey", err)
		}
	})

	t.Run("status", func(t *testing.T) {
		srv, _, _ := chatServer(t, 10, "x")
		c := NewChatClient(srv.URL, "test-key", "m", time.Second)
		if _, err := c.Complete(context.Background(), nil, 0); !errors.Is(err, ErrServiceUnavailable) {
			t.Errorf("error = %v, want ErrServiceUnavailable", err)
		}
	})

	t.Run("no choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		}))
		defer srv.Close()
		c := NewChatClient(srv.URL, "test-key", "m", time.Second)
		if _, err := c.Complete(context.Background(), nil, 0); !errors.Is(err, ErrBadResponse) {
			t.Errorf("error = %v, want ErrBadResponse", err)
		}
	})
}

func testPhoto(t *testing.T) *gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return &m
}

func TestService_AnalyzeRetriesThenSucceeds(t *testing.T) {
	srv, calls, last := chatServer(t, 2, `{"description":"a hand","story":"ok sign","items":["hand"]}`)

	s := NewService(
		NewVisionAnalyzer(NewChatClient(srv.URL, "test-key", "vision", time.Second)),
		nil,
		Retry{Attempts: 3, Delay: time.Millisecond},
	)

	a, err := s.Analyze(context.Background(), testPhoto(t))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if a.Description != "a hand" {
		t.Errorf("Description = %q", a.Description)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}

	req := last.get()
	parts, ok := req.Messages[0].Content.([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("content = %#v, want text and image parts", req.Messages[0].Content)
	}
	img := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(img, "data:image/jpeg;base64,") {
		t.Errorf("image url = %.40q", img)
	}
}

func TestService_Fallbacks(t *testing.T) {
	srv, calls, _ := chatServer(t, 100, "unused")
	client := NewChatClient(srv.URL, "test-key", "m", time.Second)
	s := NewService(NewVisionAnalyzer(client), NewChatPoet(client), Retry{Attempts: 2, Delay: time.Millisecond})

	a, err := s.Analyze(context.Background(), testPhoto(t))
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("Analyze() error = %v, want ErrServiceUnavailable", err)
	}
	if a.Description != OfflineAnalysis().Description {
		t.Error("Analyze() did not fall back to the offline analysis")
	}

	text, err := s.Generate(context.Background(), a)
	if err == nil || text != OfflinePoem {
		t.Errorf("Generate() = %q, %v; want offline poem and an error", text, err)
	}
	if calls.Load() != 4 {
		t.Errorf("calls = %d, want 4", calls.Load())
	}
}

func TestService_NoKeySkipsNetwork(t *testing.T) {
	srv, calls, _ := chatServer(t, 0, "x")
	client := NewChatClient(srv.URL, "", "m", time.Second)
	s := NewService(NewVisionAnalyzer(client), NewChatPoet(client), Retry{Attempts: 3, Delay: time.Hour})

	if _, err := s.Analyze(context.Background(), testPhoto(t)); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("Analyze() error = %v, want ErrNoAPIKey", err)
	}
	if text, _ := s.Generate(context.Background(), OfflineAnalysis()); text != OfflinePoem {
		t.Errorf("Generate() = %q", text)
	}
	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", calls.Load())
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "poet.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommandPoet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping subprocess test in short mode")
	}

	tests := []struct {
		name    string
		script  string
		timeout time.Duration
		want    string
		wantErr error
	}{
		{
			name:    "reads analysis",
			script:  `grep -q '"items":\["lamp"\]' && echo '{"poem":"lamp light"}'`,
			timeout: 5 * time.Second,
			want:    "lamp light",
		},
		{
			name:    "reports error",
			script:  `cat >/dev/null; echo '{"error":"model offline"}'`,
			timeout: 5 * time.Second,
			wantErr: ErrServiceUnavailable,
		},
		{
			name:    "garbage",
			script:  `cat >/dev/null; echo 'not json'`,
			timeout: 5 * time.Second,
			wantErr: ErrBadResponse,
		},
		{
			name:    "non-zero exit",
			script:  `cat >/dev/null; echo oops >&2; exit 2`,
			timeout: 5 * time.Second,
			wantErr: ErrServiceUnavailable,
		},
		{
			name:    "timeout",
			script:  `sleep 5`,
			timeout: 100 * time.Millisecond,
			wantErr: ErrServiceUnavailable,
		},
	}

	a := Analysis{Description: "d", Story: "s", Items: []string{"lamp"}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewCommandPoet(writeScript(t, tt.script), tt.timeout)
			if err != nil {
				t.Fatal(err)
			}

			got, err := p.Generate(context.Background(), a)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Generate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Generate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewCommandPoet_Empty(t *testing.T) {
	if _, err := NewCommandPoet("   ", time.Second); err == nil {
		t.Error("NewCommandPoet(blank) succeeded")
	}
}
