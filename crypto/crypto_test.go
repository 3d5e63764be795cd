package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESEncryptor(t *testing.T) {
	cases := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"empty key", "", true},
		{"not base64", "!!!not-base64!!!", true},
		{"wrong length", base64.StdEncoding.EncodeToString([]byte("short")), true},
		{"valid 32-byte key", base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAESEncryptor(tc.key)
			if (err != nil) != tc.wantErr {
				t.Errorf("NewAESEncryptor(%q) err = %v, wantErr %v", tc.key, err, tc.wantErr)
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}

	plaintext := []byte("oauth-refresh-token-abcdef0123456789")
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Error("ciphertext contains plaintext")
	}

	got, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestEncryptProducesUniqueNonces(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}
	a, err := enc.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := enc.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}
	ciphertext, err := enc.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xff
	if _, err := enc.Decrypt(ciphertext); err == nil {
		t.Error("expected error for tampered ciphertext")
	}
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}
	if _, err := enc.Decrypt([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated ciphertext")
	}
	if _, err := enc.Decrypt(nil); err == nil {
		t.Error("expected error for empty ciphertext")
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	encA, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}
	encB, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}
	ciphertext, err := encA.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := encB.Decrypt(ciphertext); err == nil {
		t.Error("expected error when decrypting with a different key")
	}
}

func TestStringHelpers(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}

	// Empty strings pass through unchanged (plaintext-absent rows).
	out, err := EncryptString(enc, "")
	if err != nil || out != "" {
		t.Errorf("EncryptString(\"\") = %q, %v; want \"\", nil", out, err)
	}
	out, err = DecryptString(enc, "")
	if err != nil || out != "" {
		t.Errorf("DecryptString(\"\") = %q, %v; want \"\", nil", out, err)
	}

	stored, err := EncryptString(enc, "user-access-token")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if strings.Contains(stored, "user-access-token") {
		t.Error("stored value contains plaintext")
	}
	got, err := DecryptString(enc, stored)
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if got != "user-access-token" {
		t.Errorf("DecryptString = %q, want original", got)
	}

	if _, err := DecryptString(enc, "%%%not-base64%%%"); err == nil {
		t.Error("expected error for invalid base64")
	}
}
