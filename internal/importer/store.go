package importer

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrSessionNotFound = errors.New("import session not found")
	ErrImportRunning   = errors.New("import is already running")
)

const DefaultSessionTTL = 30 * time.Minute

type sessionEntry struct {
	session  *Session
	progress Progress
	report   *Report
	running  bool
	touched  time.Time
}

// SessionStore keeps import sessions in memory and evicts idle ones.
type SessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*sessionEntry
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: map[string]*sessionEntry{},
	}
}

func (s *SessionStore) Put(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = &sessionEntry{session: session, touched: s.now()}
}

// Get returns a copy of the session. Mapping slices are replaced on every
// edit, never written in place, so sharing them with the copy is safe.
func (s *SessionStore) Get(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	e.touched = s.now()
	return *e.session, nil
}

// Update runs fn on the stored session under the store lock.
func (s *SessionStore) Update(id string, fn func(*Session) error) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if e.running {
		return Session{}, ErrImportRunning
	}
	draft := *e.session
	if err := fn(&draft); err != nil {
		return Session{}, err
	}
	e.session = &draft
	e.touched = s.now()
	return draft, nil
}

func (s *SessionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if e.running {
		return ErrImportRunning
	}
	delete(s.sessions, id)
	return nil
}

// Begin marks the session as executing and returns the snapshot to run.
func (s *SessionStore) Begin(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if e.running {
		return Session{}, ErrImportRunning
	}
	e.running = true
	e.report = nil
	e.progress = Progress{}
	e.touched = s.now()
	return *e.session, nil
}

// Finish records the outcome of a run started with Begin. A run that failed
// before producing a report is left in PhaseFailed so progress readers stop.
func (s *SessionStore) Finish(id string, report *Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[id]; ok {
		e.running = false
		e.report = report
		if err != nil && e.progress.Phase != PhaseFailed {
			e.progress.Phase = PhaseFailed
			e.progress.Error = err.Error()
		}
		e.touched = s.now()
	}
}

// Observer returns a progress observer bound to one session.
func (s *SessionStore) Observer(id string) Observer {
	return func(p Progress) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if e, ok := s.sessions[id]; ok {
			e.progress = p
			e.touched = s.now()
		}
	}
}

func (s *SessionStore) Progress(id string) (Progress, *Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return Progress{}, nil, ErrSessionNotFound
	}
	return e.progress, e.report, nil
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the TTL. Running imports are kept.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for id, e := range s.sessions {
		if !e.running && e.touched.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}
