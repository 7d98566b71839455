//go:build linux

package actions

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"

	"schedq/internal/task"
	"schedq/internal/task/engine"
)

func systemdAction(op, unit string) task.Action {
	return func(ctx context.Context) error {
		conn, err := dbus.NewSystemConnectionContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to connect to systemd: %w", err)
		}
		defer conn.Close()

		done := make(chan string, 1)
		switch op {
		case "start":
			_, err = conn.StartUnitContext(ctx, unit, "replace", done)
		case "stop":
			_, err = conn.StopUnitContext(ctx, unit, "replace", done)
		case "restart":
			_, err = conn.RestartUnitContext(ctx, unit, "replace", done)
		case "reload":
			_, err = conn.ReloadUnitContext(ctx, unit, "replace", done)
		}
		if err != nil {
			return fmt.Errorf("failed to %s %s: %w", op, unit, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-done:
			switch res {
			case "done":
				return nil
			case "dependency", "skipped":
				return engine.NoRetry(fmt.Errorf("%s %s: job %s", op, unit, res))
			default:
				return fmt.Errorf("%s %s: job %s", op, unit, res)
			}
		}
	}
}
