package actions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"schedq/internal/task/engine"
	logx "schedq/pkg/logx"
)

func TestShellLine(t *testing.T) {
	t.Parallel()
	if err := ShellLine("exit 0")(context.Background()); err != nil {
		t.Fatalf("exit 0: %v", err)
	}
	err := ShellLine("echo nope; exit 3")(context.Background())
	if err == nil {
		t.Fatalf("expected error for exit 3")
	}
	if !strings.Contains(err.Error(), "out=nope") {
		t.Fatalf("error should carry output, got %v", err)
	}
}

func TestShellHonorsContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := Shell("sleep", "5")(ctx); err == nil {
		t.Fatalf("expected error from killed command")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("command was not killed on ctx cancel")
	}
}

func TestHTTPStatusHandling(t *testing.T) {
	t.Parallel()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		switch r.URL.Path {
		case "/ok":
			if r.Method != http.MethodPost || r.Header.Get("X-Token") != "t" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case "/busy":
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	ok := HTTP(Request{Method: "post", URL: srv.URL + "/ok", Headers: map[string]string{"X-Token": "t"}})
	if err := ok(ctx); err != nil {
		t.Fatalf("ok: %v", err)
	}

	err := HTTP(Request{URL: srv.URL + "/busy"})(ctx)
	var ra engine.RetryAfterError
	if !errors.As(err, &ra) || ra.RetryAfter() != 2*time.Second {
		t.Fatalf("busy: want retry-after 2s, got %v", err)
	}

	err = HTTP(Request{URL: srv.URL + "/down"})(ctx)
	if err == nil || engine.IsNoRetry(err) {
		t.Fatalf("down: want retryable error, got %v", err)
	}

	err = HTTP(Request{URL: srv.URL + "/missing"})(ctx)
	if !engine.IsNoRetry(err) {
		t.Fatalf("missing: want no-retry error, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 4 {
		t.Fatalf("hits = %d, want 4", hits)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	good := []string{"noop", "shell: true", "http: https://example.com", "http: POST https://example.com/x", " NOOP ", "systemd: restart nginx"}
	for _, d := range good {
		if _, err := Parse(d); err != nil {
			t.Fatalf("Parse(%q): %v", d, err)
		}
	}
	bad := []string{"", "shell:", "http:", "http: a b c", "ftp: x", "nightly backup", "systemd: explode nginx", "systemd: restart"}
	for _, d := range bad {
		if _, err := Parse(d); err == nil {
			t.Fatalf("Parse(%q) should fail", d)
		}
	}
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()
	r := NewRegistry(logx.Nop())
	var called int32
	r.Register("nightly backup", func(context.Context) error {
		atomic.AddInt32(&called, 1)
		return nil
	})

	a, ok := r.Resolve("nightly backup")
	if !ok {
		t.Fatalf("registered action not resolved")
	}
	_ = a(context.Background())
	if called != 1 {
		t.Fatalf("registered action not invoked")
	}
	if _, ok := r.Resolve("noop"); !ok {
		t.Fatalf("builtin not resolved")
	}
	if _, ok := r.Resolve("unknown thing"); ok {
		t.Fatalf("unknown description resolved")
	}
}

func TestSpecDescriptionAndBuild(t *testing.T) {
	t.Parallel()
	cases := []struct {
		spec     Spec
		desc     string
		hasDesc  bool
		buildErr bool
	}{
		{Spec{Kind: "noop"}, "noop", true, false},
		{Spec{Kind: "shell", Command: "echo hi"}, "shell: echo hi", true, false},
		{Spec{Kind: "shell", Command: "echo", Args: []string{"hi"}}, "", false, false},
		{Spec{Kind: "http", URL: "http://x"}, "http: GET http://x", true, false},
		{Spec{Kind: "http", URL: "http://x", Body: "{}"}, "", false, false},
		{Spec{Kind: "shell"}, "shell: ", true, true},
		{Spec{Kind: "systemd", Op: "Restart", Unit: "nginx"}, "systemd: restart nginx", true, false},
		{Spec{Kind: "systemd", Op: "kill", Unit: "nginx"}, "systemd: kill nginx", true, true},
		{Spec{Kind: "mail"}, "", false, true},
	}
	for _, c := range cases {
		d, ok := c.spec.Description()
		if ok != c.hasDesc || (ok && d != c.desc) {
			t.Fatalf("%+v: Description() = %q,%v", c.spec, d, ok)
		}
		_, err := Build(c.spec)
		if (err != nil) != c.buildErr {
			t.Fatalf("%+v: Build err = %v", c.spec, err)
		}
	}
}

func TestUnitName(t *testing.T) {
	t.Parallel()
	if got := unitName("nginx"); got != "nginx.service" {
		t.Fatalf("unitName(nginx) = %q", got)
	}
	if got := unitName("backup.timer"); got != "backup.timer" {
		t.Fatalf("unitName(backup.timer) = %q", got)
	}
}
