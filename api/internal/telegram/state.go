package telegram

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"babmutna-bot/api/internal/location"
	"babmutna-bot/api/internal/metrics"
	"babmutna-bot/api/internal/navigation"
)

// ControllerFactory builds the navigation controller for a new chat session.
type ControllerFactory func(sessionID string, geo location.Geolocator, r navigation.Renderer) *navigation.Controller

type session struct {
	id     string
	chatID int64
	ctrl   *navigation.Controller
	geo    *LocationInbox
	view   *screenView
	cancel context.CancelFunc

	lastSeen atomic.Int64 // unix nano
}

func (s *session) touch() { s.lastSeen.Store(time.Now().UnixNano()) }

func (s *session) idleSince() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Sessions holds one running controller per chat.
type Sessions struct {
	factory ControllerFactory
	log     *zap.Logger

	mu    sync.Mutex
	chats map[int64]*session
}

func NewSessions(f ControllerFactory, log *zap.Logger) *Sessions {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sessions{factory: f, log: log.Named("sessions"), chats: map[int64]*session{}}
}

func (ss *Sessions) get(chatID int64) (*session, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.chats[chatID]
	if ok {
		s.touch()
	}
	return s, ok
}

// start replaces any session of the chat with a fresh one, the way a page
// reload starts the flow over.
func (ss *Sessions) start(ctx context.Context, chatID int64, view *screenView) *session {
	ss.stop(chatID)

	s := &session{
		id:     uuid.NewString(),
		chatID: chatID,
		geo:    NewLocationInbox(),
		view:   view,
	}
	s.touch()
	s.ctrl = ss.factory(s.id, s.geo, view)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	ss.mu.Lock()
	ss.chats[chatID] = s
	ss.mu.Unlock()
	metrics.ActiveSessions.Inc()

	go func() {
		defer metrics.ActiveSessions.Dec()
		_ = s.ctrl.Run(runCtx)
	}()
	ss.log.Info("session started", zap.Int64("chat_id", chatID), zap.String("session", s.id))
	return s
}

func (ss *Sessions) stop(chatID int64) {
	ss.mu.Lock()
	s, ok := ss.chats[chatID]
	delete(ss.chats, chatID)
	ss.mu.Unlock()
	if !ok {
		return
	}
	s.cancel()
	<-s.ctrl.Done()
	ss.log.Info("session stopped", zap.Int64("chat_id", chatID), zap.String("session", s.id))
}

// Reap stops sessions idle for longer than idle. It returns how many were stopped.
func (ss *Sessions) Reap(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	var stale []int64
	ss.mu.Lock()
	for id, s := range ss.chats {
		if s.idleSince().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	ss.mu.Unlock()
	for _, id := range stale {
		ss.stop(id)
	}
	return len(stale)
}

// RunReaper calls Reap every interval until ctx is done.
func (ss *Sessions) RunReaper(ctx context.Context, every, idle time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := ss.Reap(idle); n > 0 {
				ss.log.Info("reaped idle sessions", zap.Int("count", n))
			}
		}
	}
}

// StopAll stops every session.
func (ss *Sessions) StopAll() {
	ss.mu.Lock()
	ids := make([]int64, 0, len(ss.chats))
	for id := range ss.chats {
		ids = append(ids, id)
	}
	ss.mu.Unlock()
	for _, id := range ids {
		ss.stop(id)
	}
}

func (ss *Sessions) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.chats)
}
