package actions

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"schedq/internal/task"
	logx "schedq/pkg/logx"
)

// Noop succeeds immediately.
func Noop() task.Action {
	return func(context.Context) error { return nil }
}

// Parse builds a built-in action from its description.
func Parse(desc string) (task.Action, error) {
	d := strings.TrimSpace(desc)
	kind, arg, _ := strings.Cut(d, ":")
	kind = strings.ToLower(strings.TrimSpace(kind))
	arg = strings.TrimSpace(arg)

	switch kind {
	case "noop":
		return Noop(), nil
	case "shell":
		if arg == "" {
			return nil, fmt.Errorf("shell action needs a command line")
		}
		return ShellLine(arg), nil
	case "http":
		fields := strings.Fields(arg)
		switch len(fields) {
		case 1:
			return HTTP(Request{URL: fields[0]}), nil
		case 2:
			return HTTP(Request{Method: fields[0], URL: fields[1]}), nil
		default:
			return nil, fmt.Errorf("http action needs '[METHOD] <url>'")
		}
	case "systemd":
		op, unit, _ := strings.Cut(arg, " ")
		return Systemd(op, unit)
	default:
		return nil, fmt.Errorf("unknown action %q", desc)
	}
}

// Registry resolves task descriptions to actions. Explicit registrations win
// over built-in descriptions.
type Registry struct {
	log logx.Logger

	mu     sync.RWMutex
	byDesc map[string]task.Action
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{log: log, byDesc: map[string]task.Action{}}
}

// Register binds desc to a. Registering the same description again replaces it.
func (r *Registry) Register(desc string, a task.Action) {
	desc = strings.TrimSpace(desc)
	if desc == "" || a == nil {
		return
	}
	r.mu.Lock()
	r.byDesc[desc] = a
	r.mu.Unlock()
}

// Resolve returns the action for desc. It has the signature of
// scheduler.ActionResolver.
func (r *Registry) Resolve(desc string) (task.Action, bool) {
	desc = strings.TrimSpace(desc)
	r.mu.RLock()
	a, ok := r.byDesc[desc]
	r.mu.RUnlock()
	if ok {
		return a, true
	}
	a, err := Parse(desc)
	if err != nil {
		r.log.Debug("action not resolved", logx.String("desc", desc), logx.Err(err))
		return nil, false
	}
	return a, true
}

// Spec is a config-level action definition.
type Spec struct {
	Kind    string
	Unit    string // systemd
	Op      string // systemd: start, stop, restart or reload
	Command string
	Args    []string
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// Description renders s in the form Parse accepts, when possible.
// Specs with headers, a body or separate args have no parseable form and get
// a name-based description from the caller instead.
func (s Spec) Description() (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s.Kind)) {
	case "noop":
		return "noop", true
	case "shell":
		if len(s.Args) > 0 {
			return "", false
		}
		return "shell: " + strings.TrimSpace(s.Command), true
	case "http":
		if len(s.Headers) > 0 || s.Body != "" {
			return "", false
		}
		m := strings.ToUpper(strings.TrimSpace(s.Method))
		if m == "" {
			m = http.MethodGet
		}
		return "http: " + m + " " + strings.TrimSpace(s.URL), true
	case "systemd":
		return "systemd: " + strings.ToLower(strings.TrimSpace(s.Op)) + " " + strings.TrimSpace(s.Unit), true
	}
	return "", false
}

// Build returns the action described by s.
func Build(s Spec) (task.Action, error) {
	switch strings.ToLower(strings.TrimSpace(s.Kind)) {
	case "noop":
		return Noop(), nil
	case "shell":
		if strings.TrimSpace(s.Command) == "" {
			return nil, fmt.Errorf("shell action needs a command")
		}
		if len(s.Args) == 0 {
			return ShellLine(s.Command), nil
		}
		return Shell(s.Command, s.Args...), nil
	case "http":
		if strings.TrimSpace(s.URL) == "" {
			return nil, fmt.Errorf("http action needs a url")
		}
		var body []byte
		if s.Body != "" {
			body = []byte(s.Body)
		}
		return HTTP(Request{Method: s.Method, URL: s.URL, Headers: s.Headers, Body: body}), nil
	case "systemd":
		return Systemd(s.Op, s.Unit)
	default:
		return nil, fmt.Errorf("unknown action kind %q", s.Kind)
	}
}
