package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// DefaultSuspendTTL bounds how long a suspended run waits for its answer.
const DefaultSuspendTTL = 24 * time.Hour

// Pending is the snapshot of a run suspended for human input. The state is
// the full post-node clone, so a resume can continue exactly where the walk
// stopped.
type Pending struct {
	ID           string         `json:"id"`
	Workflow     string         `json:"workflow"`
	Config       WorkflowConfig `json:"config"`
	NodeName     string         `json:"node_name"`
	Prompt       string         `json:"prompt"`
	State        *State         `json:"state"`
	CreatedAt    time.Time      `json:"created_at"`
	EmptyAnswers int            `json:"empty_answers"`
}

// PendingStore persists suspended runs between Run and Resume.
type PendingStore interface {
	Save(ctx context.Context, p *Pending) error
	Load(ctx context.Context, id string) (*Pending, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Pending, error)
}

// MemoryPendingStore keeps pending runs in process memory. Records past the
// TTL are pruned lazily on access.
type MemoryPendingStore struct {
	mu      sync.RWMutex
	records map[string]*Pending
	ttl     time.Duration
}

// NewMemoryPendingStore creates a store with the default TTL.
func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{
		records: map[string]*Pending{},
		ttl:     DefaultSuspendTTL,
	}
}

// SetTTL adjusts the retention window; zero disables expiry.
func (s *MemoryPendingStore) SetTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = ttl
}

// Save stores a pending run.
func (s *MemoryPendingStore) Save(ctx context.Context, p *Pending) error {
	if p == nil || p.ID == "" {
		return types.NewError(types.ErrInternal, "pending record needs an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	s.records[p.ID] = p
	return nil
}

// Load returns a pending run by id.
func (s *MemoryPendingStore) Load(ctx context.Context, id string) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	p, ok := s.records[id]
	if !ok {
		return nil, types.NewErrorf(types.ErrUnknownToken, "no pending run %q", id)
	}
	return p, nil
}

// Delete removes a pending run.
func (s *MemoryPendingStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// List returns all pending runs ordered by creation time.
func (s *MemoryPendingStore) List(ctx context.Context) ([]*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	out := make([]*Pending, 0, len(s.records))
	for _, p := range s.records {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryPendingStore) pruneLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.ttl)
	for id, p := range s.records {
		if p.CreatedAt.Before(cutoff) {
			delete(s.records, id)
		}
	}
}

// TokenCodec signs resume tokens so a suspension handle can leave the
// process (CLI output, HTTP response) and come back verified. Without a
// secret the codec degrades to passing pending ids through unsigned, which
// suits single-process setups.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenCodec creates a codec. An empty secret disables signing.
func NewTokenCodec(secret string, ttl time.Duration) *TokenCodec {
	if ttl <= 0 {
		ttl = DefaultSuspendTTL
	}
	return &TokenCodec{secret: []byte(secret), ttl: ttl}
}

// Issue returns the resume token for a pending run.
func (c *TokenCodec) Issue(pendingID, workflow string) (string, error) {
	if len(c.secret) == 0 {
		return pendingID, nil
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": pendingID,
		"wf":  workflow,
		"iat": now.Unix(),
		"exp": now.Add(c.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", types.NewError(types.ErrInternal, "failed to sign resume token").WithCause(err)
	}
	return signed, nil
}

// Verify checks a resume token and returns the pending run id.
func (c *TokenCodec) Verify(token string) (string, error) {
	if len(c.secret) == 0 {
		if token == "" {
			return "", types.NewError(types.ErrUnknownToken, "empty resume token")
		}
		return token, nil
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return "", types.NewError(types.ErrUnknownToken, "invalid resume token").WithCause(err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", types.NewError(types.ErrUnknownToken, "invalid resume token claims")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", types.NewError(types.ErrUnknownToken, "resume token has no subject")
	}
	return sub, nil
}
