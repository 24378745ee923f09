package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tukangworks/tukang/internal/config"
	"github.com/tukangworks/tukang/internal/hierarchy"
	"github.com/tukangworks/tukang/internal/observability"
	"github.com/tukangworks/tukang/internal/rules"
	"github.com/tukangworks/tukang/model"
)

// Manager owns all live form sessions. Sessions idle longer than the TTL
// are reclaimed by a background sweep.
type Manager struct {
	cfg       config.SessionsConfig
	src       hierarchy.Source
	validator *rules.Validator
	metrics   *observability.Metrics
	logger    *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*FormSession

	stop chan struct{}
	done chan struct{}
}

// NewManager creates a session manager. Call Start to begin the TTL sweep.
func NewManager(cfg config.SessionsConfig, src hierarchy.Source,
	metrics *observability.Metrics, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		src:       src,
		validator: rules.NewValidator(),
		metrics:   metrics,
		logger:    logger,
		sessions:  make(map[string]*FormSession),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Create mounts a new session for the screen, owned by the subject. When the
// subject already holds the configured maximum, the longest-idle session is
// evicted first.
func (m *Manager) Create(ctx context.Context, screen model.ScreenDefinition, subjectID string) (*FormSession, error) {
	m.evictOverflow(subjectID)

	s := newFormSession(uuid.NewString(), screen, subjectID, m.src, m.validator)
	if err := s.start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordSessionStart(screen.ID)
	}
	m.logger.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("screen_id", screen.ID),
		zap.String("subject_id", subjectID),
	)
	return s, nil
}

// Get returns the session if it exists and belongs to the subject. A session
// owned by another subject is indistinguishable from a missing one.
func (m *Manager) Get(id, subjectID string) (*FormSession, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || s.SubjectID != subjectID {
		return nil, model.NewSessionNotFoundError(id)
	}
	s.touch()
	return s, nil
}

// Delete removes a session, typically after a successful submission.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok && m.metrics != nil {
		m.metrics.RecordSessionEnd(false)
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Start launches the background TTL sweep.
func (m *Manager) Start() {
	go func() {
		defer close(m.done)
		interval := m.cfg.SweepInterval
		if interval <= 0 {
			interval = time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop halts the TTL sweep and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}

// sweep reclaims sessions idle longer than the TTL.
func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.cfg.TTL)
	var expired []*FormSession

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			delete(m.sessions, id)
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		if m.metrics != nil {
			m.metrics.RecordSessionEnd(true)
		}
		m.logger.Info("session expired",
			zap.String("session_id", s.ID),
			zap.String("screen_id", s.ScreenID),
		)
	}
}

// evictOverflow removes the subject's longest-idle sessions until a new one
// fits under the per-subject cap.
func (m *Manager) evictOverflow(subjectID string) {
	if m.cfg.MaxPerSubject <= 0 {
		return
	}

	m.mu.Lock()
	var owned []*FormSession
	for _, s := range m.sessions {
		if s.SubjectID == subjectID {
			owned = append(owned, s)
		}
	}
	var evicted []*FormSession
	if len(owned) >= m.cfg.MaxPerSubject {
		sort.Slice(owned, func(i, j int) bool {
			return owned[i].idleSince().Before(owned[j].idleSince())
		})
		for i := 0; i <= len(owned)-m.cfg.MaxPerSubject; i++ {
			delete(m.sessions, owned[i].ID)
			evicted = append(evicted, owned[i])
		}
	}
	m.mu.Unlock()

	for _, s := range evicted {
		if m.metrics != nil {
			m.metrics.RecordSessionEnd(false)
		}
		m.logger.Info("session evicted",
			zap.String("session_id", s.ID),
			zap.String("subject_id", subjectID),
		)
	}
}
