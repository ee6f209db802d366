// Package gateway owns the live client sessions of this process. Worker
// processes never touch it directly; they reach it through the bridge.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/callguard/internal/auth"
	"github.com/yoockh/callguard/internal/cache"
	"github.com/yoockh/callguard/internal/metrics"
	"github.com/yoockh/callguard/internal/models"
	"github.com/yoockh/callguard/internal/utils"
)

const (
	PolicyReplace = "replace"
	PolicyReject  = "reject"
)

type TokenVerifier interface {
	Verify(raw string) (auth.Identity, error)
}

type Options struct {
	SessionPolicy     string
	SendBuffer        int
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	LevelTTL          time.Duration
}

func (o *Options) withDefaults() {
	if o.SessionPolicy == "" {
		o.SessionPolicy = PolicyReplace
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.LevelTTL <= 0 {
		o.LevelTTL = time.Hour
	}
}

type Gateway struct {
	mu       sync.RWMutex
	sessions map[int64]*Session

	verifier TokenVerifier
	levels   cache.Cache
	opts     Options
	log      *logrus.Logger
}

func New(verifier TokenVerifier, levels cache.Cache, opts Options, log *logrus.Logger) *Gateway {
	opts.withDefaults()
	if log == nil {
		log = logrus.New()
	}
	return &Gateway{
		sessions: make(map[int64]*Session),
		verifier: verifier,
		levels:   levels,
		opts:     opts,
		log:      log,
	}
}

// Connect verifies token and registers conn as the user's live session.
func (g *Gateway) Connect(ctx context.Context, token string, conn Conn) (*Session, error) {
	const op = "Gateway.Connect"

	id, err := g.verifier.Verify(token)
	if err != nil {
		return nil, utils.E(utils.CodeUnauthorized, op, "invalid session token", err)
	}
	return g.Register(ctx, id.UserID, conn)
}

// Register adds a session for an already authenticated user. Under the
// replace policy an existing session is closed; under reject it is kept and
// ErrDuplicateSession returned.
func (g *Gateway) Register(ctx context.Context, userID int64, conn Conn) (*Session, error) {
	const op = "Gateway.Register"

	s := newSession(userID, conn, g.opts.SendBuffer, g.opts.WriteTimeout)
	s.level.Store(int32(g.storedLevel(ctx, userID)))

	g.mu.Lock()
	old, exists := g.sessions[userID]
	if exists && g.opts.SessionPolicy == PolicyReject {
		g.mu.Unlock()
		return nil, utils.E(utils.CodeConflict, op, "user already connected", utils.ErrDuplicateSession)
	}
	g.sessions[userID] = s
	n := len(g.sessions)
	g.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	if exists {
		old.close()
		g.log.WithField("user_id", userID).Info("previous session replaced")
	}

	go s.writeLoop(func(err error) {
		g.log.WithError(err).WithField("user_id", userID).Info("write failed, dropping session")
		g.Remove(s)
	})

	g.log.WithFields(logrus.Fields{"user_id": userID, "defense_level": s.DefenseLevel()}).Info("session connected")
	return s, nil
}

// Disconnect tears down whatever session userID has. Safe to call repeatedly.
func (g *Gateway) Disconnect(userID int64) {
	g.mu.Lock()
	s, ok := g.sessions[userID]
	if ok {
		delete(g.sessions, userID)
	}
	n := len(g.sessions)
	g.mu.Unlock()

	if ok {
		metrics.ActiveSessions.Set(float64(n))
		s.close()
		g.log.WithField("user_id", userID).Info("session disconnected")
	}
}

// Remove tears down s, leaving a newer session for the same user alone.
func (g *Gateway) Remove(s *Session) {
	g.mu.Lock()
	cur, ok := g.sessions[s.UserID]
	if ok && cur == s {
		delete(g.sessions, s.UserID)
	}
	n := len(g.sessions)
	g.mu.Unlock()

	s.close()
	if ok && cur == s {
		metrics.ActiveSessions.Set(float64(n))
		g.log.WithField("user_id", s.UserID).Info("session disconnected")
	}
}

func (g *Gateway) Session(userID int64) (*Session, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[userID]
	return s, ok
}

func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Deliver queues ev for userID. It never blocks and never errors: false
// means the user is offline or not keeping up, and the audit trail is the
// only record.
func (g *Gateway) Deliver(userID int64, ev models.AlertEvent) bool {
	s, ok := g.Session(userID)
	if !ok {
		metrics.Deliveries.WithLabelValues("offline").Inc()
		return false
	}
	if !s.Send(ev) {
		metrics.Deliveries.WithLabelValues("dropped").Inc()
		return false
	}
	metrics.Deliveries.WithLabelValues("sent").Inc()
	return true
}

// SetDefenseLevel records level for userID and, when connected, syncs it to
// the client. Any level in range is accepted, including a downgrade.
func (g *Gateway) SetDefenseLevel(ctx context.Context, userID int64, level int, cfg map[string]any) error {
	const op = "Gateway.SetDefenseLevel"

	if !models.ValidDefenseLevel(level) {
		return utils.E(utils.CodeInvalidArgument, op, "defense level must be 0, 1 or 2", nil)
	}

	var storeErr error
	if g.levels != nil {
		if err := g.levels.SetJSON(ctx, cache.DefenseLevelKey(userID), level, g.opts.LevelTTL); err != nil {
			storeErr = utils.E(utils.CodeUnavailable, op, "failed to store defense level", err)
			g.log.WithError(err).WithField("user_id", userID).Warn("defense level not persisted")
		}
	}

	if s, ok := g.Session(userID); ok {
		s.level.Store(int32(level))
		target := level
		s.Send(models.AlertEvent{
			Type:        models.EventControl,
			Action:      models.ActionLevelSync,
			TargetLevel: &target,
			Config:      cfg,
			Timestamp:   time.Now().UTC(),
		})
	}
	return storeErr
}

func (g *Gateway) storedLevel(ctx context.Context, userID int64) int {
	if g.levels == nil {
		return models.DefenseNormal
	}
	var level int
	hit, err := g.levels.GetJSON(ctx, cache.DefenseLevelKey(userID), &level)
	if err != nil || !hit || !models.ValidDefenseLevel(level) {
		return models.DefenseNormal
	}
	return level
}

// RunHeartbeat probes every session on each tick until ctx is done.
func (g *Gateway) RunHeartbeat(ctx context.Context) {
	t := time.NewTicker(g.opts.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			g.Probe()
		}
	}
}

// Probe pings every session once and drops the ones that fail. Returns the
// number of sessions dropped.
func (g *Gateway) Probe() int {
	g.mu.RLock()
	snapshot := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		snapshot = append(snapshot, s)
	}
	g.mu.RUnlock()

	dropped := 0
	for _, s := range snapshot {
		if err := s.ping(); err != nil {
			dropped++
			metrics.HeartbeatEvictions.Inc()
			g.log.WithError(err).WithField("user_id", s.UserID).Info("heartbeat failed")
			g.Remove(s)
		}
	}
	return dropped
}

// Shutdown closes every session.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	all := g.sessions
	g.sessions = make(map[int64]*Session)
	g.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	metrics.ActiveSessions.Set(0)
}
