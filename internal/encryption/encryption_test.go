package encryption

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x11}, 32)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	box, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cipher, err := box.Encrypt("Jane Doe")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if cipher == "Jane Doe" {
		t.Fatalf("ciphertext should not equal plaintext")
	}

	plain, err := box.Decrypt(cipher)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "Jane Doe" {
		t.Errorf("expected round-trip to recover plaintext, got %q", plain)
	}
}

func TestEncrypt_EmptyStringStaysEmpty(t *testing.T) {
	box, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cipher, err := box.Encrypt("")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if cipher != "" {
		t.Errorf("expected empty plaintext to stay empty, got %q", cipher)
	}
}

func TestDecrypt_TamperedCiphertextFails(t *testing.T) {
	box, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cipher, err := box.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	tampered := []byte(cipher)
	tampered[len(tampered)-1] ^= 0xFF
	if _, err := box.Decrypt(string(tampered)); err == nil {
		t.Errorf("expected tampered ciphertext to fail decryption")
	}
}
