package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"clinicore.app/internal/ids"
)

var _ Store = (*Memory)(nil)

// Memory implements Store with in-process concurrency safety. Used in tests
// and when the service runs without a Postgres DSN.
type Memory struct {
	mu         sync.RWMutex
	principals map[string]*Principal
	byEmail    map[string]string
	tokens     map[string]*RefreshToken
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		principals: make(map[string]*Principal),
		byEmail:    make(map[string]string),
		tokens:     make(map[string]*RefreshToken),
	}
}

func (m *Memory) Principals() PrincipalStore     { return (*memoryPrincipals)(m) }
func (m *Memory) RefreshTokens() RefreshTokenStore { return (*memoryTokens)(m) }

type memoryPrincipals Memory

func (s *memoryPrincipals) Create(ctx context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(p.Email)
	if _, exists := s.byEmail[key]; exists {
		return ErrDuplicateEmail
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	s.principals[p.ID] = &cp
	s.byEmail[key] = p.ID
	return nil
}

func (s *memoryPrincipals) FindByID(ctx context.Context, id string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memoryPrincipals) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.principals[id]
	return &cp, nil
}

func (s *memoryPrincipals) RecordLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.LastLoginAt = at
	p.FailedAttempts = 0
	p.LockedUntil = time.Time{}
	p.UpdatedAt = at
	return nil
}

func (s *memoryPrincipals) RecordFailure(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return 0, ErrNotFound
	}
	p.FailedAttempts++
	p.UpdatedAt = time.Now().UTC()
	return p.FailedAttempts, nil
}

func (s *memoryPrincipals) SetLock(ctx context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.LockedUntil = until
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryPrincipals) UpdateSecret(ctx context.Context, id, secretHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.SecretHash = secretHash
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryPrincipals) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.Active = false
	p.UpdatedAt = time.Now().UTC()
	return nil
}

type memoryTokens Memory

func (s *memoryTokens) Create(ctx context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	cp := *tok
	s.tokens[tok.ID] = &cp
	return nil
}

func (s *memoryTokens) FindByID(ctx context.Context, id string) (*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *memoryTokens) Revoke(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok || tok.Revoked {
		return false, nil
	}
	tok.Revoked = true
	return true, nil
}

func (s *memoryTokens) RevokeAllForPrincipal(ctx context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range s.tokens {
		if tok.PrincipalID == principalID {
			tok.Revoked = true
		}
	}
	return nil
}

func (s *memoryTokens) ListActive(ctx context.Context, principalID string, now time.Time) ([]*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RefreshToken
	for _, tok := range s.tokens {
		if tok.PrincipalID != principalID || tok.Revoked || !now.Before(tok.ExpiresAt) {
			continue
		}
		cp := *tok
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			// ULIDs sort in creation order; break timestamp ties with them.
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
