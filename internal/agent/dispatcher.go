package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/paserver/internal/observability"
)

var ErrBlocked = errors.New("task blocked")

// Outcome is the result of one invocation.
type Outcome struct {
	Capability string
	Result     string
	Err        error
}

type Dispatcher struct {
	registry *Registry
	planner  Planner
	logger   *slog.Logger
	metrics  *observability.Metrics
}

func NewDispatcher(registry *Registry, planner Planner, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		planner:  planner,
		logger:   logger.With("component", "agent"),
		metrics:  metrics,
	}
}

// Run plans the task against the allowed capabilities (nil allows all) and
// invokes each planned call in order. A failed invocation is recorded in its
// Outcome; the returned error covers screening and planning only.
func (d *Dispatcher) Run(ctx context.Context, task string, allowed []string) ([]Outcome, error) {
	screening := Screen(task)
	d.logger.Info("task received", "risk", screening.Risk, "task", RedactPII(task))
	if screening.Blocked {
		return nil, fmt.Errorf("%w: %s", ErrBlocked, screening.Reason)
	}

	caps := d.registry.List(allowed)
	permitted := make(map[string]bool, len(caps))
	for _, c := range caps {
		permitted[c.Name()] = true
	}

	invocations, err := d.planner.Plan(ctx, task, caps)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(invocations))
	for _, inv := range invocations {
		out := Outcome{Capability: inv.Name}
		if !permitted[inv.Name] {
			out.Err = fmt.Errorf("%w: %s", ErrUnknownCapability, inv.Name)
		} else if c, err := d.registry.Get(inv.Name); err != nil {
			out.Err = err
		} else {
			out.Result, out.Err = c.Invoke(ctx, inv.Arguments)
		}

		result := "ok"
		if out.Err != nil {
			result = "error"
			d.logger.Warn("capability failed", "capability", inv.Name, "error", out.Err)
		} else {
			d.logger.Info("capability done", "capability", inv.Name)
		}
		if d.metrics != nil {
			d.metrics.CapabilityCalls.WithLabelValues(inv.Name, result).Inc()
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// Summarize renders a run as the note the assistant reads on its next turn.
func Summarize(outcomes []Outcome, err error) string {
	if err != nil {
		return fmt.Sprintf("The task could not be performed: %v", err)
	}
	if len(outcomes) == 0 {
		return "No capability matched the task, nothing was done."
	}
	var b strings.Builder
	b.WriteString("Task results:")
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Fprintf(&b, "\n- %s failed: %v", o.Capability, o.Err)
			continue
		}
		fmt.Fprintf(&b, "\n- %s: %s", o.Capability, o.Result)
	}
	return b.String()
}
