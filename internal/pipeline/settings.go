package pipeline

import (
	"fmt"
	"time"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
)

// TypeSettings carries the execution budget for one task type. Text generation
// and song synthesis run for minutes while a PDF render takes seconds, so both
// values are per-type.
type TypeSettings struct {
	HeartbeatTimeout time.Duration
	MaxAttempts      int
}

// Settings maps each task type to its execution budget. The planner stamps
// these onto task rows at creation time; changing settings never affects tasks
// already planned.
type Settings map[domain.TaskType]TypeSettings

// Validate checks that every task type has a sane budget.
func (s Settings) Validate() error {
	for _, t := range domain.AllTaskTypes {
		ts, ok := s[t]
		if !ok {
			return fmt.Errorf("missing settings for task type %q", t)
		}
		if ts.HeartbeatTimeout <= 0 {
			return fmt.Errorf("task type %q: heartbeat timeout must be positive", t)
		}
		if ts.MaxAttempts <= 0 {
			return fmt.Errorf("task type %q: max attempts must be positive", t)
		}
	}
	return nil
}

// DefaultSettings returns the execution budgets used unless configuration
// overrides them.
func DefaultSettings() Settings {
	return Settings{
		domain.TaskTypeText:  {HeartbeatTimeout: 5 * time.Minute, MaxAttempts: 3},
		domain.TaskTypePDF:   {HeartbeatTimeout: 2 * time.Minute, MaxAttempts: 3},
		domain.TaskTypeAudio: {HeartbeatTimeout: 10 * time.Minute, MaxAttempts: 3},
		domain.TaskTypeSong:  {HeartbeatTimeout: 15 * time.Minute, MaxAttempts: 3},
	}
}
