// Package groupactivity is the relay that participants of a group activity
// connect to: it keeps the session membership and fans progress frames out
// to every participant.
package groupactivity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend-activitytracker/internal/joincode"
	"backend-activitytracker/internal/lifecycle"
	"backend-activitytracker/internal/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultSessionTTL = 12 * time.Hour
	codeAttempts      = 16
)

var (
	ErrSessionNotFound = errors.New("group session not found")
	ErrCodeExhausted   = errors.New("no free join code")
	ErrInvalidRequest  = errors.New("invalid group session request")
)

type CreateRequest struct {
	ActivityType lifecycle.ActivityType `json:"activity_type"`
	StartAt      time.Time              `json:"start_at"`
}

// CreateResponse carries the session and its scannable join URI.
type CreateResponse struct {
	Session lifecycle.SessionView `json:"session"`
	JoinURI string                `json:"join_uri"`
}

type JoinRequest struct {
	Code string `json:"code"`
	URI  string `json:"uri"`
}

type Service struct {
	registry *registry
	hub      *Hub
	parser   *joincode.Parser
	metrics  *Metrics
	log      *zap.Logger
	now      func() time.Time
}

type ServiceOptions struct {
	Hub        *Hub
	Metrics    *Metrics
	Log        *zap.Logger
	SessionTTL time.Duration
	Scheme     string
}

func NewService(opts ServiceOptions) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(nil, opts.Log)
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &Service{
		registry: newRegistry(opts.SessionTTL),
		hub:      opts.Hub,
		parser:   joincode.NewParser(opts.Scheme),
		metrics:  opts.Metrics,
		log:      opts.Log,
		now:      time.Now,
	}
}

func (s *Service) Hub() *Hub {
	return s.hub
}

// Create opens a session owned by ownerID under a fresh join code.
func (s *Service) Create(ownerID string, req CreateRequest) (CreateResponse, error) {
	if !req.ActivityType.Valid() {
		return CreateResponse{}, fmt.Errorf("activity type %q: %w", req.ActivityType, ErrInvalidRequest)
	}
	if req.StartAt.IsZero() {
		req.StartAt = s.now()
	}

	for i := 0; i < codeAttempts; i++ {
		code, err := joincode.Generate()
		if err != nil {
			return CreateResponse{}, err
		}
		r := &room{session: lifecycle.NewGroupSession(uuid.NewString(), code, ownerID, req.ActivityType, req.StartAt)}
		if !s.registry.add(r) {
			continue
		}
		uri, err := s.parser.URI(code)
		if err != nil {
			return CreateResponse{}, err
		}
		s.metrics.SessionsCreated.Inc()
		s.log.Info("group session created",
			zap.String("session_id", r.session.ID),
			zap.String("owner_id", ownerID),
			zap.String("activity_type", string(req.ActivityType)))
		return CreateResponse{Session: r.view(), JoinURI: uri}, nil
	}
	return CreateResponse{}, ErrCodeExhausted
}

// Join adds userID to the session named by a bare code or a join URI.
func (s *Service) Join(ctx context.Context, userID string, req JoinRequest) (lifecycle.SessionView, error) {
	code := req.Code
	if req.URI != "" {
		parsed, err := s.parser.Parse(req.URI)
		if err != nil {
			return lifecycle.SessionView{}, err
		}
		code = parsed
	}
	if !joincode.Valid(code) {
		return lifecycle.SessionView{}, fmt.Errorf("%q: %w", code, joincode.ErrNotJoinCode)
	}

	r, ok := s.registry.byCode(code)
	if !ok {
		return lifecycle.SessionView{}, ErrSessionNotFound
	}
	return s.mutate(ctx, r, userID, (*lifecycle.GroupSession).Join)
}

func (s *Service) Get(id string) (lifecycle.SessionView, error) {
	r, ok := s.registry.byID(id)
	if !ok {
		return lifecycle.SessionView{}, ErrSessionNotFound
	}
	return r.view(), nil
}

func (s *Service) Connect(ctx context.Context, id, userID string) (lifecycle.SessionView, error) {
	return s.apply(ctx, id, userID, (*lifecycle.GroupSession).Connect)
}

func (s *Service) Activate(ctx context.Context, id, userID string) (lifecycle.SessionView, error) {
	return s.apply(ctx, id, userID, (*lifecycle.GroupSession).Activate)
}

func (s *Service) Finish(ctx context.Context, id, userID string) (lifecycle.SessionView, error) {
	return s.apply(ctx, id, userID, (*lifecycle.GroupSession).Finish)
}

func (s *Service) Disconnect(ctx context.Context, id, userID string) (lifecycle.SessionView, error) {
	return s.apply(ctx, id, userID, (*lifecycle.GroupSession).Disconnect)
}

func (s *Service) Leave(ctx context.Context, id, userID string) (lifecycle.SessionView, error) {
	return s.apply(ctx, id, userID, (*lifecycle.GroupSession).Leave)
}

// End finishes the session for everyone; only the owner may.
func (s *Service) End(ctx context.Context, id, userID string) (lifecycle.SessionView, error) {
	return s.apply(ctx, id, userID, (*lifecycle.GroupSession).End)
}

// Relay forwards a participant frame to the whole session unchanged.
func (s *Service) Relay(ctx context.Context, id string, env protocol.Envelope) error {
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	s.hub.Broadcast(ctx, id, frame)
	return nil
}

func (s *Service) apply(ctx context.Context, id, userID string, op func(*lifecycle.GroupSession, string) error) (lifecycle.SessionView, error) {
	r, ok := s.registry.byID(id)
	if !ok {
		return lifecycle.SessionView{}, ErrSessionNotFound
	}
	return s.mutate(ctx, r, userID, op)
}

// mutate runs op under the room lock and announces the resulting view
// before releasing it, so announcements keep the order of the changes.
func (s *Service) mutate(ctx context.Context, r *room, userID string, op func(*lifecycle.GroupSession, string) error) (lifecycle.SessionView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := op(r.session, userID); err != nil {
		return lifecycle.SessionView{}, err
	}
	view := r.session.Snapshot()
	s.registry.touch(r)
	s.announce(ctx, userID, view)
	return view, nil
}

func (s *Service) announce(ctx context.Context, userID string, view lifecycle.SessionView) {
	env, err := protocol.StatusChangeMessage(protocol.StatusChangePayload{
		UserID:  userID,
		Status:  view.Status,
		Session: &view,
	})
	if err != nil {
		s.log.Error("encode membership change", zap.Error(err))
		return
	}
	if err := s.Relay(ctx, view.ID, env); err != nil {
		s.log.Error("relay membership change", zap.Error(err))
	}
}
