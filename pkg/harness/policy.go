package harness

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PollAttempt records one probe of the poll loop
type PollAttempt struct {
	Attempt int
	Status  string
	At      time.Time
	Err     error
}

// Probe performs one observation and returns the raw status it saw
type Probe func(ctx context.Context, attempt int) (string, error)

// RetryPolicy is a bounded, strictly sequential poll loop
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	// Terminal reports whether a status ends the loop successfully
	Terminal func(status string) bool
	// OnAttempt, when set, observes every attempt as it is recorded
	OnAttempt func(PollAttempt)
}

// CompletedPolicy stops on the first status containing "Completed"
func CompletedPolicy(attempts int, interval time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		Interval:    interval,
		Terminal:    IsCompleted,
	}
}

// IsCompleted matches the raw token or any display text that contains it
func IsCompleted(status string) bool {
	return strings.Contains(status, "Completed")
}

// IsTerminalFailure matches statuses that will never turn into Completed
func IsTerminalFailure(status string) bool {
	for _, s := range []string{"Failed", "Terminated", "Canceled"} {
		if strings.Contains(status, s) {
			return true
		}
	}
	return false
}

// Poll runs probe until Terminal accepts its status or MaxAttempts probes
// have been made. It sleeps Interval between attempts, never after the last.
// A probe error ends the loop at once. Budget exhaustion returns a
// *PollBudgetExhaustedError carrying the last observed status.
func (p RetryPolicy) Poll(ctx context.Context, probe Probe) ([]PollAttempt, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	terminal := p.Terminal
	if terminal == nil {
		terminal = IsCompleted
	}

	attempts := make([]PollAttempt, 0, maxAttempts)
	var last string

	for n := 1; n <= maxAttempts; n++ {
		status, err := probe(ctx, n)
		attempt := PollAttempt{Attempt: n, Status: status, At: time.Now(), Err: err}
		attempts = append(attempts, attempt)
		if p.OnAttempt != nil {
			p.OnAttempt(attempt)
		}

		if err != nil {
			return attempts, fmt.Errorf("poll attempt %d: %w", n, err)
		}
		last = status

		if terminal(status) {
			return attempts, nil
		}

		if n == maxAttempts {
			break
		}

		timer := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, fmt.Errorf("poll interrupted after %d attempts: %w", n, ctx.Err())
		case <-timer.C:
		}
	}

	return attempts, &PollBudgetExhaustedError{LastStatus: last, Attempts: attempts}
}
