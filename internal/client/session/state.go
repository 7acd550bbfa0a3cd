package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/rs/zerolog"
)

type Status int

const (
	Uninitialized Status = iota
	Unauthenticated
	Authenticated
)

func (s Status) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return "uninitialized"
	}
}

type EventKind int

const (
	// Changed fires whenever status or user changes.
	Changed EventKind = iota
	// AuthCleared fires when the session was dropped without the user
	// asking for it, for example after a failed token refresh.
	AuthCleared
)

type Event struct {
	Kind   EventKind
	Status Status
	User   *users.UserProfile
}

// State is the process-wide view of who is logged in. It is backed by a
// Store and never holds a partial session.
type State struct {
	store Store
	log   zerolog.Logger

	initOnce sync.Once
	initErr  error
	ready    chan struct{}

	mu      sync.RWMutex
	status  Status
	user    *users.UserProfile
	access  string
	refresh string

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

func NewState(store Store, log zerolog.Logger) *State {
	return &State{
		store: store,
		log:   log,
		ready: make(chan struct{}),
		subs:  map[int]func(Event){},
	}
}

// Init loads the persisted session. Only the first call does any work;
// later calls return its result.
func (s *State) Init(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.Revalidate(ctx)
		close(s.ready)
	})
	return s.initErr
}

// Ready is closed once Init has finished.
func (s *State) Ready() <-chan struct{} {
	return s.ready
}

func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *State) User() *users.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *State) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

func (s *State) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

func decodeUser(data string) (*users.UserProfile, error) {
	var u users.UserProfile
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		return nil, fmt.Errorf("decode user data: %w", err)
	}
	if u.ID == "" || u.Email == "" {
		return nil, errors.New("user data lacks id or email")
	}
	return &u, nil
}

// Revalidate re-reads the store and applies the startup rule: all three
// parts present and a usable user, or nothing at all. Partial data is
// removed from the store.
func (s *State) Revalidate(ctx context.Context) error {
	rec, err := s.store.Load(ctx)
	if err != nil {
		s.set(Unauthenticated, nil, "", "")
		return err
	}

	if rec.complete() {
		user, err := decodeUser(rec.UserData)
		if err == nil {
			s.set(Authenticated, user, rec.AccessToken, rec.RefreshToken)
			return nil
		}
		s.log.Warn().Err(err).Msg("stored session is unusable, clearing")
	} else if !rec.empty() {
		s.log.Warn().Msg("stored session is partial, clearing")
	}

	s.set(Unauthenticated, nil, "", "")
	if !rec.empty() {
		return s.store.Clear(ctx)
	}
	return nil
}

// Login persists a new session and only then reports it as authenticated.
// Any failure leaves the state fully cleared.
func (s *State) Login(ctx context.Context, user users.UserProfile, accessToken, refreshToken string) error {
	if user.ID == "" || user.Email == "" || accessToken == "" || refreshToken == "" {
		s.clear(ctx)
		return ErrIncompleteSession
	}

	data, err := json.Marshal(user)
	if err != nil {
		s.clear(ctx)
		return fmt.Errorf("encode user data: %w", err)
	}
	rec := Record{AccessToken: accessToken, RefreshToken: refreshToken, UserData: string(data)}

	if err := s.store.Save(ctx, rec); err != nil {
		s.clear(ctx)
		return err
	}
	stored, err := s.store.Load(ctx)
	if err != nil {
		s.clear(ctx)
		return err
	}
	if stored != rec {
		s.clear(ctx)
		return errors.New("session: stored data does not match what was written")
	}

	s.set(Authenticated, &user, accessToken, refreshToken)
	return nil
}

// Logout drops the session. It is safe to call repeatedly.
func (s *State) Logout(ctx context.Context) error {
	s.set(Unauthenticated, nil, "", "")
	return s.store.Clear(ctx)
}

// ForceClear drops the session and broadcasts AuthCleared.
func (s *State) ForceClear(ctx context.Context) {
	s.clear(ctx)
	s.publish(Event{Kind: AuthCleared, Status: Unauthenticated})
}

func (s *State) clear(ctx context.Context) {
	if err := s.Logout(ctx); err != nil {
		s.log.Error().Err(err).Msg("failed to clear stored session")
	}
}

func (s *State) set(status Status, user *users.UserProfile, access, refresh string) {
	s.mu.Lock()
	changed := s.status != status || !sameUser(s.user, user)
	s.status = status
	s.user = user
	s.access = access
	s.refresh = refresh
	s.mu.Unlock()

	if changed {
		s.publish(Event{Kind: Changed, Status: status, User: user})
	}
}

func sameUser(a, b *users.UserProfile) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Subscribe registers fn for state events and returns a function that
// removes it. fn runs on the goroutine that caused the change.
func (s *State) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *State) publish(ev Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
