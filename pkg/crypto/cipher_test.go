package crypto

import (
	"bytes"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	payload := []byte("DISCORD_BOT_TOKEN=abc123\nDB_PASSWORD=hunter2\n")

	sealed, err := Seal("session-secret", payload)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if bytes.Contains(sealed, []byte("hunter2")) {
		t.Fatalf("ciphertext leaked plaintext")
	}

	opened, err := Open("session-secret", sealed)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !bytes.Equal(opened, payload) {
		t.Fatalf("round trip mismatch: got %q", opened)
	}
}

func TestOpenRejectsWrongSecret(t *testing.T) {
	sealed, err := Seal("right", []byte("payload"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if _, err := Open("wrong", sealed); err == nil {
		t.Fatalf("expected decryption failure with wrong secret")
	}
}

func TestOpenRejectsTruncatedPayload(t *testing.T) {
	if _, err := Open("secret", []byte{0x01, 0x02}); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}
