// Package lifecycle holds the single-activity state machine and the
// membership model of a group activity session.
package lifecycle

import (
	"fmt"
	"time"
)

// Activity is the NOT_STARTED -> IN_PROGRESS <-> PAUSED -> FINISHED state
// machine of one participant. It also keeps the moving time, which excludes
// paused spans.
type Activity struct {
	status     Status
	startedAt  time.Time
	pausedAt   time.Time
	finishedAt time.Time
	pausedFor  time.Duration
}

func NewActivity() *Activity {
	return &Activity{status: StatusNotStarted}
}

func (a *Activity) Status() Status {
	return a.status
}

func (a *Activity) StartedAt() time.Time {
	return a.startedAt
}

func (a *Activity) FinishedAt() time.Time {
	return a.finishedAt
}

func (a *Activity) Start(at time.Time) (Transition, error) {
	if a.status != StatusNotStarted {
		return Transition{}, a.reject("start")
	}
	a.startedAt = at
	return a.move(StatusInProgress, true), nil
}

func (a *Activity) Pause(at time.Time) (Transition, error) {
	if a.status != StatusInProgress {
		return Transition{}, a.reject("pause")
	}
	a.pausedAt = at
	return a.move(StatusPaused, false), nil
}

func (a *Activity) Resume(at time.Time) (Transition, error) {
	if a.status != StatusPaused {
		return Transition{}, a.reject("resume")
	}
	a.pausedFor += at.Sub(a.pausedAt)
	a.pausedAt = time.Time{}
	return a.move(StatusInProgress, true), nil
}

func (a *Activity) Finish(at time.Time) (Transition, error) {
	if !a.status.IsRunning() {
		return Transition{}, a.reject("finish")
	}
	if a.status == StatusPaused {
		a.pausedFor += at.Sub(a.pausedAt)
		a.pausedAt = time.Time{}
	}
	a.finishedAt = at
	return a.move(StatusFinished, false), nil
}

// Elapsed is the moving time at now.
func (a *Activity) Elapsed(now time.Time) time.Duration {
	switch a.status {
	case StatusNotStarted:
		return 0
	case StatusFinished:
		now = a.finishedAt
	case StatusPaused:
		now = a.pausedAt
	}
	d := now.Sub(a.startedAt) - a.pausedFor
	if d < 0 {
		return 0
	}
	return d
}

func (a *Activity) move(to Status, newSegment bool) Transition {
	tr := Transition{From: a.status, To: to, NewSegment: newSegment}
	a.status = to
	return tr
}

func (a *Activity) reject(op string) error {
	return fmt.Errorf("%s from %s: %w", op, a.status, ErrInvalidTransition)
}
