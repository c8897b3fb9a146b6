package secrets

import (
	"encoding/base64"
	"testing"
)

func TestSealOpen(t *testing.T) {
	keys := map[string][]byte{
		"k1": mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="),
	}
	k, err := NewKeeper("k1", keys)
	if err != nil {
		t.Fatalf("new keeper: %v", err)
	}

	raw, err := k.Seal("service-role-api-key")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	out, err := k.Open(raw)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if out != "service-role-api-key" {
		t.Fatalf("expected original secret, got %q", out)
	}
}

func TestRotationOpensOldSealsNew(t *testing.T) {
	oldKey := mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	newKey := mustKey(t, "AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE=")

	oldKeeper, err := NewKeeper("old", map[string][]byte{"old": oldKey})
	if err != nil {
		t.Fatalf("old keeper: %v", err)
	}
	oldCipher, err := oldKeeper.Seal("legacy")
	if err != nil {
		t.Fatalf("old seal: %v", err)
	}

	rotated, err := NewKeeper("new", map[string][]byte{"old": oldKey, "new": newKey})
	if err != nil {
		t.Fatalf("rotated keeper: %v", err)
	}

	plain, err := rotated.Open(oldCipher)
	if err != nil {
		t.Fatalf("open with old key failed: %v", err)
	}
	if plain != "legacy" {
		t.Fatalf("unexpected plaintext %q", plain)
	}

	resealed, err := rotated.Rotate(oldCipher)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	fresh, err := rotated.Open(resealed)
	if err != nil {
		t.Fatalf("open resealed: %v", err)
	}
	if fresh != "legacy" {
		t.Fatalf("unexpected resealed plaintext %q", fresh)
	}
}

func mustKey(t *testing.T, b64 string) []byte {
	t.Helper()
	k, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	if len(k) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(k))
	}
	return k
}
