package tutor_test

import (
	"context"
	"testing"
	"time"

	"github.com/mathgaling/tutor/internal/tutor"
)

func TestMemoryGuard(t *testing.T) {
	ctx := context.Background()
	g := tutor.NewMemoryGuard()

	ok, err := g.Claim(ctx, "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first Claim() = %v, %v; want true", ok, err)
	}
	if ok, _ := g.Claim(ctx, "a", time.Minute); ok {
		t.Error("second Claim() succeeded while held")
	}
	if ok, _ := g.Claim(ctx, "b", time.Minute); !ok {
		t.Error("Claim() of another key failed")
	}

	if err := g.Release(ctx, "a"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if ok, _ := g.Claim(ctx, "a", time.Minute); !ok {
		t.Error("Claim() after Release() failed")
	}

	if _, err := g.Claim(ctx, "", time.Minute); err == nil {
		t.Error("Claim() with empty key should fail")
	}
}

func TestMemoryGuard_Expires(t *testing.T) {
	ctx := context.Background()
	g := tutor.NewMemoryGuard()

	if ok, _ := g.Claim(ctx, "k", 10*time.Millisecond); !ok {
		t.Fatal("Claim() failed")
	}
	time.Sleep(30 * time.Millisecond)
	if ok, _ := g.Claim(ctx, "k", 10*time.Millisecond); !ok {
		t.Error("Claim() after expiry failed")
	}
}

func TestFingerprint(t *testing.T) {
	base := tutor.Submission{StudentID: 1, ContentItemID: 2, Answer: "42", Correct: boolPtr(true)}

	same := base
	same.Answer = "  42 "
	same.TimeSpent = 99 // timing is not part of the fingerprint

	if tutor.Fingerprint(base) != tutor.Fingerprint(same) {
		t.Error("equivalent submissions have different fingerprints")
	}

	variants := map[string]func(*tutor.Submission){
		"student":  func(s *tutor.Submission) { s.StudentID = 9 },
		"item":     func(s *tutor.Submission) { s.ContentItemID = 9 },
		"answer":   func(s *tutor.Submission) { s.Answer = "43" },
		"verdict":  func(s *tutor.Submission) { s.Correct = boolPtr(false) },
		"unscored": func(s *tutor.Submission) { s.Correct = nil },
		"practice": func(s *tutor.Submission) { s.PracticeMode = true },
		"session":  func(s *tutor.Submission) { s.SessionID = "s" },
		"key":      func(s *tutor.Submission) { s.IdempotencyKey = "k" },
	}
	for name, mutate := range variants {
		v := base
		mutate(&v)
		if tutor.Fingerprint(v) == tutor.Fingerprint(base) {
			t.Errorf("changing %s did not change the fingerprint", name)
		}
	}

	if got := len(tutor.Fingerprint(base)); got != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", got)
	}
}
