package panel

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/apperr"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/keylock"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/storage"
)

// DefaultSessionTimeout is how long a selector may sit idle
const DefaultSessionTimeout = 60 * time.Second

// SessionKind is the flow a session drives
type SessionKind int

const (
	SessionAssign SessionKind = iota
	SessionRelease
)

func (k SessionKind) String() string {
	if k == SessionRelease {
		return "release"
	}
	return "assign"
}

// Session is a snapshot of one in-progress selector
type Session struct {
	Token   string
	GuildID string
	Map     string
	UserID  string
	Kind    SessionKind

	// Flag and Seen are set once the user has picked a flag; Seen is the
	// status the selector displayed for it.
	Flag string
	Seen storage.FlagStatus
}

type session struct {
	Session
	unlock func()
	timer  *time.Timer
}

// Sessions tracks at most one selector per (guild, map)
type Sessions struct {
	timeout time.Duration
	latches *keylock.Table

	mu      deadlock.Mutex
	byToken map[string]*session
}

// NewSessions creates an empty tracker. A non-positive timeout selects
// DefaultSessionTimeout.
func NewSessions(timeout time.Duration) *Sessions {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &Sessions{
		timeout: timeout,
		latches: keylock.New(),
		byToken: make(map[string]*session),
	}
}

// Begin opens a session for user on (guild, map). It fails with BusySession
// while another session on the same map is live.
func (s *Sessions) Begin(guildID, mapKey, userID string, kind SessionKind) (Session, error) {
	unlock, ok := s.latches.TryLock(keylock.MapKey(guildID, mapKey))
	if !ok {
		return Session{}, apperr.New(apperr.KindBusySession)
	}

	sess := &session{
		Session: Session{
			Token:   uuid.NewString(),
			GuildID: guildID,
			Map:     mapKey,
			UserID:  userID,
			Kind:    kind,
		},
		unlock: unlock,
	}
	token := sess.Token

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byToken[token] = sess
	sess.timer = time.AfterFunc(s.timeout, func() {
		if s.end(token) {
			slog.Info("Panel session expired", "guildID", guildID, "map", mapKey, "userID", userID)
		}
	})
	return sess.Session, nil
}

// Get returns the session for token and resets its idle timer. An unknown or
// expired token is StaleState; a token owned by another user is
// PermissionDenied.
func (s *Sessions) Get(token, userID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byToken[token]
	if !ok {
		return Session{}, apperr.New(apperr.KindStaleState)
	}
	if sess.UserID != userID {
		return Session{}, apperr.New(apperr.KindPermissionDenied)
	}
	sess.timer.Reset(s.timeout)
	return sess.Session, nil
}

// Pick records the flag chosen in the first step and the status shown for it
func (s *Sessions) Pick(token, flag string, seen storage.FlagStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byToken[token]
	if !ok {
		return apperr.New(apperr.KindStaleState)
	}
	sess.Flag = flag
	sess.Seen = seen
	sess.timer.Reset(s.timeout)
	return nil
}

// End closes the session and frees its map. Ending an unknown token is a
// no-op.
func (s *Sessions) End(token string) {
	s.end(token)
}

func (s *Sessions) end(token string) bool {
	s.mu.Lock()
	sess, ok := s.byToken[token]
	if ok {
		delete(s.byToken, token)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	sess.timer.Stop()
	sess.unlock()
	return true
}

// Active reports how many sessions are open
func (s *Sessions) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byToken)
}
