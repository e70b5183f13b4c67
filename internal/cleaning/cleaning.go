// Package cleaning turns raw generated question text into a clean question set.
package cleaning

import (
	"fmt"

	"go.uber.org/zap"
)

// Step represents a single cleaning step applied to generated questions.
type Step interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Apply(deps Deps, questions []string) ([]string, Stats, error)
}

// Deps aggregates dependencies shared across all cleaning steps.
type Deps struct {
	Logger *zap.Logger
	// Limit is the requested number of questions. Zero means no limit.
	Limit int
}

// Stats describes the result of executing a cleaning step.
type Stats struct {
	Initial int
	Dropped int
	Left    int
}

// Status represents runtime information about a step.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

type statusProvider interface {
	Status() Status
}

// Default returns the standard pipeline in execution order.
func Default() []Step {
	return []Step{
		NewStripFormatting(),
		NewDropNonQuestions(),
		NewDedupe(),
		NewLimit(),
	}
}

// DisableByName marks a step with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Step, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Run executes the supplied steps sequentially and returns the cleaned questions.
func Run(deps Deps, steps []Step, questions []string) ([]string, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	current := append([]string(nil), questions...)
	for _, step := range steps {
		if !step.IsEnabled() {
			deps.Logger.Debug("cleaning step disabled", zap.String("name", step.Name()))
			continue
		}

		next, info, err := step.Apply(deps, current)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		deps.Logger.Debug("cleaning step",
			zap.String("name", step.Name()),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("left", info.Left),
		)

		current = next
	}

	return current, nil
}

// Describe returns status entries for the provided steps.
func Describe(steps []Step) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}

type toggle struct {
	disabled bool
	reason   string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.reason = reason
}

func (t *toggle) IsEnabled() bool { return !t.disabled }

func stats(initial, left int) Stats {
	return Stats{Initial: initial, Dropped: initial - left, Left: left}
}
