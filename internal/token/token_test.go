package token

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"
)

func TestIssue(t *testing.T) {
	issued, err := Issue(time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if len(issued.Raw) != 64 {
		t.Fatalf("raw length want 64 hex chars got %d", len(issued.Raw))
	}
	if _, err := hex.DecodeString(issued.Raw); err != nil {
		t.Fatalf("raw token should be hex: %v", err)
	}
	if issued.Hash == issued.Raw {
		t.Fatalf("stored hash must differ from raw token")
	}
	if issued.Hash != Hash(issued.Raw) {
		t.Fatalf("hash mismatch: %s vs %s", issued.Hash, Hash(issued.Raw))
	}
	remaining := time.Until(issued.ExpiresAt)
	if remaining < 59*time.Minute || remaining > time.Hour {
		t.Fatalf("expiry should be about one hour away, got %v", remaining)
	}
}

func TestIssueUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 32; i++ {
		issued, err := Issue(time.Minute)
		if err != nil {
			t.Fatalf("issue failed: %v", err)
		}
		if _, dup := seen[issued.Raw]; dup {
			t.Fatalf("duplicate raw token generated")
		}
		seen[issued.Raw] = struct{}{}
	}
}

func TestHashMatchesSHA256Hex(t *testing.T) {
	raw := "abc123"
	sum := sha256.Sum256([]byte(raw))
	want := hex.EncodeToString(sum[:])
	if got := Hash(raw); got != want {
		t.Fatalf("hash want %s got %s", want, got)
	}
}
