package lifecycle

import (
	"fmt"
	"slices"
	"time"
)

// memberSet keeps insertion order with set semantics.
type memberSet []string

func (m memberSet) has(id string) bool {
	return slices.Contains(m, id)
}

func (m *memberSet) add(id string) bool {
	if m.has(id) {
		return false
	}
	*m = append(*m, id)
	return true
}

func (m *memberSet) remove(id string) bool {
	i := slices.Index(*m, id)
	if i < 0 {
		return false
	}
	*m = slices.Delete(*m, i, i+1)
	return true
}

func (m memberSet) clone() []string {
	out := make([]string, len(m))
	copy(out, m)
	return out
}

// GroupSession tracks who joined a group activity and how far along each
// participant is. connected is a subset of joined, active a subset of
// connected, and nobody is active and finished at once.
//
// GroupSession is not safe for concurrent use; the relay hub serializes
// access.
type GroupSession struct {
	ID           string
	JoinCode     string
	OwnerID      string
	StartAt      time.Time
	ActivityType ActivityType

	status    Status
	joined    memberSet
	connected memberSet
	active    memberSet
	finished  memberSet
}

// SessionView is a detached copy of a GroupSession.
type SessionView struct {
	ID           string       `json:"id"`
	JoinCode     string       `json:"join_code"`
	OwnerID      string       `json:"owner_id"`
	StartAt      time.Time    `json:"start_at"`
	ActivityType ActivityType `json:"activity_type"`
	Status       Status       `json:"status"`
	Joined       []string     `json:"joined"`
	Connected    []string     `json:"connected"`
	Active       []string     `json:"active"`
	Finished     []string     `json:"finished"`
}

// NewGroupSession creates a session with the owner already joined.
func NewGroupSession(id, joinCode, ownerID string, activityType ActivityType, startAt time.Time) *GroupSession {
	s := &GroupSession{
		ID:           id,
		JoinCode:     joinCode,
		OwnerID:      ownerID,
		StartAt:      startAt,
		ActivityType: activityType,
		status:       StatusNotStarted,
	}
	s.joined.add(ownerID)
	return s
}

func (s *GroupSession) Status() Status {
	return s.status
}

func (s *GroupSession) Join(userID string) error {
	if err := s.open("join", userID); err != nil {
		return err
	}
	if s.finished.has(userID) {
		return fmt.Errorf("join %s: already finished: %w", userID, ErrInvalidTransition)
	}
	s.joined.add(userID)
	return nil
}

func (s *GroupSession) Connect(userID string) error {
	if err := s.open("connect", userID); err != nil {
		return err
	}
	if !s.joined.has(userID) {
		return fmt.Errorf("connect %s: %w", userID, ErrUnknownParticipant)
	}
	s.connected.add(userID)
	return nil
}

func (s *GroupSession) Activate(userID string) error {
	if err := s.open("activate", userID); err != nil {
		return err
	}
	if s.finished.has(userID) {
		return fmt.Errorf("activate %s: already finished: %w", userID, ErrInvalidTransition)
	}
	if !s.connected.has(userID) {
		return fmt.Errorf("activate %s: not connected: %w", userID, ErrUnknownParticipant)
	}
	s.active.add(userID)
	if s.status == StatusNotStarted {
		s.status = StatusInProgress
	}
	return nil
}

// Finish moves the participant from active to finished. The session itself
// finishes once every joined participant has.
func (s *GroupSession) Finish(userID string) error {
	if err := s.open("finish", userID); err != nil {
		return err
	}
	if s.finished.has(userID) {
		return fmt.Errorf("finish %s: already finished: %w", userID, ErrInvalidTransition)
	}
	if !s.joined.has(userID) {
		return fmt.Errorf("finish %s: %w", userID, ErrUnknownParticipant)
	}
	if !s.active.remove(userID) {
		return fmt.Errorf("finish %s: not active: %w", userID, ErrInvalidTransition)
	}
	s.finished.add(userID)
	s.checkComplete()
	return nil
}

// Disconnect drops the live socket of a participant, which also takes them
// out of active.
func (s *GroupSession) Disconnect(userID string) error {
	if !s.joined.has(userID) {
		return fmt.Errorf("disconnect %s: %w", userID, ErrUnknownParticipant)
	}
	s.connected.remove(userID)
	s.active.remove(userID)
	return nil
}

// Leave removes a participant that has not finished.
func (s *GroupSession) Leave(userID string) error {
	if err := s.open("leave", userID); err != nil {
		return err
	}
	if !s.joined.has(userID) {
		return fmt.Errorf("leave %s: %w", userID, ErrUnknownParticipant)
	}
	if s.finished.has(userID) {
		return fmt.Errorf("leave %s: already finished: %w", userID, ErrInvalidTransition)
	}
	s.joined.remove(userID)
	s.connected.remove(userID)
	s.active.remove(userID)
	s.checkComplete()
	return nil
}

// End finishes the whole session on the owner's request.
func (s *GroupSession) End(userID string) error {
	if userID != s.OwnerID {
		return fmt.Errorf("end by %s: %w", userID, ErrNotOwner)
	}
	if s.status == StatusFinished {
		return fmt.Errorf("end: %w", ErrInvalidTransition)
	}
	s.status = StatusFinished
	return nil
}

func (s *GroupSession) IsJoined(userID string) bool    { return s.joined.has(userID) }
func (s *GroupSession) IsConnected(userID string) bool { return s.connected.has(userID) }
func (s *GroupSession) IsActive(userID string) bool    { return s.active.has(userID) }
func (s *GroupSession) IsFinished(userID string) bool  { return s.finished.has(userID) }

func (s *GroupSession) Snapshot() SessionView {
	return SessionView{
		ID:           s.ID,
		JoinCode:     s.JoinCode,
		OwnerID:      s.OwnerID,
		StartAt:      s.StartAt,
		ActivityType: s.ActivityType,
		Status:       s.status,
		Joined:       s.joined.clone(),
		Connected:    s.connected.clone(),
		Active:       s.active.clone(),
		Finished:     s.finished.clone(),
	}
}

func (s *GroupSession) open(op, userID string) error {
	if s.status == StatusFinished {
		return fmt.Errorf("%s %s: session finished: %w", op, userID, ErrInvalidTransition)
	}
	return nil
}

func (s *GroupSession) checkComplete() {
	if len(s.finished) == 0 {
		return
	}
	for _, id := range s.joined {
		if !s.finished.has(id) {
			return
		}
	}
	s.status = StatusFinished
}
