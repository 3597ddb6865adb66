package secrets

import (
	"os"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Setenv("PARLEY_PATH", t.TempDir())

	if err := GenerateIdentity(KeyPath()); err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	identity, err := LoadIdentity(KeyPath())
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}

	blob, err := Encrypt("hunter2", identity.Recipient())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !IsEncrypted(blob) {
		t.Errorf("blob %q not recognized as encrypted", blob)
	}

	plain, err := Decrypt(blob, identity)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "hunter2" {
		t.Errorf("plain = %q", plain)
	}
}

func TestGenerateIdentityIdempotent(t *testing.T) {
	t.Setenv("PARLEY_PATH", t.TempDir())

	if err := GenerateIdentity(KeyPath()); err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	first, err := os.ReadFile(KeyPath())
	if err != nil {
		t.Fatalf("read key: %v", err)
	}

	if err := GenerateIdentity(KeyPath()); err != nil {
		t.Fatalf("GenerateIdentity (second): %v", err)
	}
	second, err := os.ReadFile(KeyPath())
	if err != nil {
		t.Fatalf("read key: %v", err)
	}
	if string(first) != string(second) {
		t.Error("key file rewritten on second call")
	}
}

func TestStoreAndResolveToken(t *testing.T) {
	t.Setenv("PARLEY_PATH", t.TempDir())

	if err := StoreToken("tok-123"); err != nil {
		t.Fatalf("StoreToken: %v", err)
	}

	// Stored file must not contain the plaintext.
	data, err := os.ReadFile(TokenPath())
	if err != nil {
		t.Fatalf("read token file: %v", err)
	}
	if strings.Contains(string(data), "tok-123") {
		t.Error("token stored in plaintext")
	}

	got, err := ResolveToken("")
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if got != "tok-123" {
		t.Errorf("token = %q", got)
	}
}

func TestResolveTokenPassthrough(t *testing.T) {
	t.Setenv("PARLEY_PATH", t.TempDir())

	got, err := ResolveToken("plain-token")
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if got != "plain-token" {
		t.Errorf("token = %q", got)
	}
}

func TestResolveTokenMissingFile(t *testing.T) {
	t.Setenv("PARLEY_PATH", t.TempDir())

	got, err := ResolveToken("")
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if got != "" {
		t.Errorf("token = %q, want empty", got)
	}
}
