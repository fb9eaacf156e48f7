package refresh

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/goGuard/internal"
	"github.com/MrEthical07/goGuard/internal/clock"
	"github.com/google/uuid"
)

// MemoryStore keeps tokens in process memory.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	byValue   map[string]*Token
	bySubject map[string]map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore issuing tokens valid for ttl.
func NewMemoryStore(ttl time.Duration, now func() time.Time) *MemoryStore {
	return &MemoryStore{
		ttl:       ttlOrDefault(ttl),
		now:       clock.OrSystem(now),
		byValue:   make(map[string]*Token),
		bySubject: make(map[string]map[string]struct{}),
	}
}

// Create mints a token for subject.
func (s *MemoryStore) Create(_ context.Context, subject string) (*Token, error) {
	value, err := internal.NewOpaqueValue()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(subject, value).clone(), nil
}

// Rotate revokes value and returns its successor.
func (s *MemoryStore) Rotate(_ context.Context, value string) (*Token, error) {
	next, err := internal.NewOpaqueValue()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.byValue[value]
	if !ok {
		return nil, ErrNotFound
	}
	if tok.Expired(s.now()) {
		s.deleteLocked(tok)
		return nil, ErrExpired
	}
	if tok.Revoked {
		s.revokeAllLocked(tok.Subject)
		return nil, ErrReplayDetected
	}

	tok.Revoked = true
	return s.insertLocked(tok.Subject, next).clone(), nil
}

// Revoke marks value revoked without deleting it.
func (s *MemoryStore) Revoke(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.byValue[value]
	if !ok {
		return ErrNotFound
	}
	tok.Revoked = true
	return nil
}

// RevokeAll revokes every live token of subject.
func (s *MemoryStore) RevokeAll(_ context.Context, subject string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeAllLocked(subject), nil
}

// Delete removes value. Deleting an unknown value is not an error.
func (s *MemoryStore) Delete(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok, ok := s.byValue[value]; ok {
		s.deleteLocked(tok)
	}
	return nil
}

// Get returns a copy of the token stored under value.
func (s *MemoryStore) Get(_ context.Context, value string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.byValue[value]
	if !ok {
		return nil, ErrNotFound
	}
	if tok.Expired(s.now()) {
		return nil, ErrExpired
	}
	return tok.clone(), nil
}

// ListActive returns copies of subject's live tokens, oldest first.
func (s *MemoryStore) ListActive(_ context.Context, subject string) ([]*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []*Token
	for value := range s.bySubject[subject] {
		tok := s.byValue[value]
		if tok == nil || tok.Revoked || tok.Expired(now) {
			continue
		}
		out = append(out, tok.clone())
	}
	sortOldestFirst(out)
	return out, nil
}

// Sweep deletes expired tokens.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, tok := range s.byValue {
		if tok.Expired(now) {
			s.deleteLocked(tok)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored tokens, revoked ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byValue)
}

func (s *MemoryStore) insertLocked(subject, value string) *Token {
	now := s.now()
	tok := &Token{
		ID:        uuid.NewString(),
		Subject:   subject,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.byValue[value] = tok
	set := s.bySubject[subject]
	if set == nil {
		set = make(map[string]struct{})
		s.bySubject[subject] = set
	}
	set[value] = struct{}{}
	return tok
}

func (s *MemoryStore) deleteLocked(tok *Token) {
	delete(s.byValue, tok.Value)
	if set := s.bySubject[tok.Subject]; set != nil {
		delete(set, tok.Value)
		if len(set) == 0 {
			delete(s.bySubject, tok.Subject)
		}
	}
}

func (s *MemoryStore) revokeAllLocked(subject string) int {
	now := s.now()
	n := 0
	for value := range s.bySubject[subject] {
		tok := s.byValue[value]
		if tok == nil || tok.Revoked || tok.Expired(now) {
			continue
		}
		tok.Revoked = true
		n++
	}
	return n
}

func sortOldestFirst(tokens []*Token) {
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
}
