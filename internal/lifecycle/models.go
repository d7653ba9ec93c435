package lifecycle

import "errors"

type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusPaused     Status = "PAUSED"
	StatusFinished   Status = "FINISHED"
)

// IsRunning reports whether the activity has started and not yet finished.
func (s Status) IsRunning() bool {
	return s == StatusInProgress || s == StatusPaused
}

func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusPaused, StatusFinished:
		return true
	}
	return false
}

type ActivityType string

const (
	ActivityRun   ActivityType = "run"
	ActivityWalk  ActivityType = "walk"
	ActivityCycle ActivityType = "cycle"
)

func (t ActivityType) Valid() bool {
	switch t {
	case ActivityRun, ActivityWalk, ActivityCycle:
		return true
	}
	return false
}

var (
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrNotOwner           = errors.New("only the owner can end the session")
)

// Transition describes an accepted state change. NewSegment is set when the
// trail needs a fresh segment (on start and when leaving PAUSED).
type Transition struct {
	From       Status `json:"from"`
	To         Status `json:"to"`
	NewSegment bool   `json:"-"`
}
