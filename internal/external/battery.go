package external

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"remindwell/internal/types"
)

// SysfsBatterySource implements types.BatterySource by reading the kernel's
// power_supply capacity file (an integer percentage and a trailing newline).
type SysfsBatterySource struct {
	path string
}

var _ types.BatterySource = (*SysfsBatterySource)(nil)

// NewSysfsBatterySource creates a SysfsBatterySource reading from path,
// typically /sys/class/power_supply/BAT0/capacity.
func NewSysfsBatterySource(path string) *SysfsBatterySource {
	return &SysfsBatterySource{path: path}
}

// CurrentLevelPercent reads the capacity file and clamps the value to
// [0, 100].
func (s *SysfsBatterySource) CurrentLevelPercent(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read battery capacity: %w", err)
	}
	level, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("malformed battery capacity %q: %w", strings.TrimSpace(string(raw)), err)
	}
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	return level, nil
}

// StaticBatterySource implements types.BatterySource with a fixed level, for
// hosts without a battery and for tests.
type StaticBatterySource struct {
	Level int
}

var _ types.BatterySource = (*StaticBatterySource)(nil)

func (s *StaticBatterySource) CurrentLevelPercent(ctx context.Context) (int, error) {
	return s.Level, nil
}
