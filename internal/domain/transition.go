package domain

import "time"

// Schedule is the alarm decision that follows a transition.
// When Delete is set the identity's state and alarm must be removed.
type Schedule struct {
	At     time.Time
	Delete bool
}

// ApplyAttempt appends attempt to state and decides the next status and alarm.
// It is pure: the input state is never mutated.
func ApplyAttempt(state DispatcherState, attempt Attempt, now time.Time, policy RetryPolicy) (DispatcherState, Schedule) {
	if state.Status.IsTerminal() {
		return state, Schedule{Delete: true}
	}

	next := state
	next.Attempts = make([]Attempt, len(state.Attempts), len(state.Attempts)+1)
	copy(next.Attempts, state.Attempts)
	next.Attempts = append(next.Attempts, attempt)

	switch {
	case attempt.Succeeded():
		next.Status = StatusSucceeded
		return next, Schedule{At: now.Add(policy.Retention)}
	case len(next.Attempts) >= policy.MaxAttempts:
		next.Status = StatusFailed
		return next, Schedule{At: now.Add(policy.Retention)}
	default:
		next.Status = StatusPending
		return next, Schedule{At: now.Add(policy.Backoff(len(next.Attempts)))}
	}
}
