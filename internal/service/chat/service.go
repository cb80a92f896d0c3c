package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	"github.com/zhouzirui/z-chat/backend/internal/service/controller"
	"github.com/zhouzirui/z-chat/backend/internal/service/persistence"
	"github.com/zhouzirui/z-chat/backend/internal/service/session"
	"github.com/zhouzirui/z-chat/backend/internal/service/tools"
)

var ErrSessionNotFound = errors.New("session not found")

// Session bundles the store and controller of one chat surface.
type Session struct {
	ID         string
	CreatedAt  time.Time
	Store      *session.Store
	Controller *controller.Controller
}

// Config carries the shared dependencies every session is wired with.
type Config struct {
	Gateway     ai.Gateway
	Tools       *tools.Registry
	Persistence *persistence.Adapter
	Defaults    chat.Settings
	Options     controller.Options
	Logger      *zap.Logger
}

// Service 管理所有活跃会话的生命周期。
type Service struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService creates an empty registry.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Defaults.SelectedModel == "" {
		cfg.Defaults = chat.DefaultSettings()
	}
	return &Service{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "chat")),
		sessions: make(map[string]*Session),
	}
}

// CreateSession provisions a store and controller and restores persisted
// settings and threads into it.
func (s *Service) CreateSession(ctx context.Context) (*Session, error) {
	now := time.Now().UTC()
	id := uuid.NewString()
	store := session.NewStore(session.NewState(s.cfg.Defaults, now))

	ctrl := controller.New(controller.Deps{
		Store:       store,
		Gateway:     s.cfg.Gateway,
		Tools:       s.cfg.Tools,
		Persistence: s.cfg.Persistence,
		Logger:      s.logger.With(zap.String("session_id", id)),
	}, s.cfg.Options)
	ctrl.Hydrate(ctx)

	sess := &Session{ID: id, CreatedAt: now, Store: store, Controller: ctrl}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.logger.Info("session created", zap.String("session_id", id))
	return sess, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// CloseSession disposes a session and forgets it.
func (s *Service) CloseSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	sess.Controller.Close()
	s.logger.Info("session closed", zap.String("session_id", sessionID))
	return nil
}

// SessionIDs lists active sessions, oldest first.
func (s *Service) SessionIDs() []string {
	s.mu.RLock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	ids := make([]string, len(all))
	for i, sess := range all {
		ids[i] = sess.ID
	}
	return ids
}

// Close disposes every session.
func (s *Service) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Controller.Close()
	}
}
