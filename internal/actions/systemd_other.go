//go:build !linux

package actions

import (
	"context"

	"schedq/internal/task"
	"schedq/internal/task/engine"
)

func systemdAction(_, _ string) task.Action {
	return func(context.Context) error { return engine.NoRetry(ErrSystemdUnsupported) }
}
