package vault

import (
	"bytes"
	"testing"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestSealOpenRoundTrip(t *testing.T) {
	plaintext := []byte(`{"webhookSecret":"whsec_abc123"}`)

	sealed, err := Seal(plaintext, testKey)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed == string(plaintext) {
		t.Fatal("ciphertext equals plaintext")
	}

	opened, err := Open(sealed, testKey)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("round trip mismatch: %s", opened)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	sealed, err := Seal([]byte("secret"), testKey)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	otherKey := []byte("ffffffffffffffffffffffffffffffff")
	if _, err := Open(sealed, otherKey); err == nil {
		t.Error("expected decryption failure with wrong key")
	}
}

func TestKeyLengthEnforced(t *testing.T) {
	if _, err := Seal([]byte("x"), []byte("short")); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := Open("00", []byte("short")); err == nil {
		t.Error("expected error for short key")
	}
}

func TestOpenRejectsTruncatedCiphertext(t *testing.T) {
	if _, err := Open("abcd", testKey); err == nil {
		t.Error("expected error for truncated ciphertext")
	}
}
