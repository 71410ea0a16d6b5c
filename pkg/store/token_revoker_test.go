package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryTokenRevokerExpires(t *testing.T) {
	r := NewMemoryTokenRevoker()
	if err := r.Revoke("short", time.Millisecond); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := r.Revoke("forever", 0); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if revoked, _ := r.IsRevoked("short"); revoked {
		t.Fatalf("expected short revocation to lapse")
	}
	if revoked, _ := r.IsRevoked("forever"); !revoked {
		t.Fatalf("expected zero-ttl revocation to persist")
	}
	if revoked, _ := r.IsRevoked("unknown"); revoked {
		t.Fatalf("unknown token reported revoked")
	}
}

func TestRedisTokenRevoker(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisTokenRevoker(mr.Addr(), "")

	if err := r.Revoke("jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := r.IsRevoked("jti-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if !revoked {
		t.Fatalf("expected jti-1 revoked")
	}

	mr.FastForward(2 * time.Minute)
	if revoked, _ := r.IsRevoked("jti-1"); revoked {
		t.Fatalf("expected revocation to expire")
	}
}
