package tutor

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/mathgaling/tutor/internal/curriculum"
	"github.com/mathgaling/tutor/internal/platform/cache"
)

// Guard reserves submission fingerprints for a short window so that a
// double-submitted answer is applied once.
type Guard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryGuard is an in-process Guard.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewMemoryGuard creates an empty in-process guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		held: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (g *MemoryGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("claim key is empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.held[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.held[key] = now.Add(ttl)

	// Sweep expired keys so the map does not grow without bound.
	for k, exp := range g.held {
		if !now.Before(exp) {
			delete(g.held, k)
		}
	}
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	delete(g.held, key)
	g.mu.Unlock()
	return nil
}

// Fingerprint identifies a submission by everything the client sent except
// timing data.
func Fingerprint(sub Submission) string {
	h, _ := blake2b.New256(nil)

	var buf [8]byte
	writeInt := func(v int64) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	writeStr := func(s string) {
		writeInt(int64(len(s)))
		h.Write([]byte(s))
	}

	writeInt(sub.StudentID)
	writeInt(sub.ContentItemID)
	writeStr(curriculum.NormalizeAnswer(sub.Answer))
	writeStr(sub.SessionID)
	writeStr(sub.IdempotencyKey)
	switch {
	case sub.Correct == nil:
		writeInt(-1)
	case *sub.Correct:
		writeInt(1)
	default:
		writeInt(0)
	}
	if sub.PracticeMode {
		writeInt(1)
	} else {
		writeInt(0)
	}

	return hex.EncodeToString(h.Sum(nil))
}

var (
	_ Guard = (*MemoryGuard)(nil)
	_ Guard = (*cache.Cache)(nil)
)
