package engine

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parseSchedule returns a cron schedule when spec is set and a constant
// delay otherwise.
func parseSchedule(spec string, interval time.Duration) (cron.Schedule, error) {
	if spec == "" {
		return cron.Every(interval), nil
	}
	s, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	return s, nil
}
