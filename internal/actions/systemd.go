package actions

import (
	"errors"
	"fmt"
	"strings"

	"schedq/internal/task"
)

var ErrSystemdUnsupported = errors.New("systemd actions are supported on linux only")

var systemdOps = map[string]struct{}{
	"start": {}, "stop": {}, "restart": {}, "reload": {},
}

// Systemd starts, stops, restarts or reloads a unit over D-Bus and waits for
// the job to finish. Units without a type suffix get ".service".
func Systemd(op, unit string) (task.Action, error) {
	op = strings.ToLower(strings.TrimSpace(op))
	if _, ok := systemdOps[op]; !ok {
		return nil, fmt.Errorf("unknown systemd operation %q", op)
	}
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return nil, fmt.Errorf("systemd action needs a unit")
	}
	return systemdAction(op, unitName(unit)), nil
}

func unitName(unit string) string {
	if strings.Contains(unit, ".") {
		return unit
	}
	return unit + ".service"
}
