package password

import (
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("secret1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "secret1" || hash == "" {
		t.Fatal("expected opaque hash")
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", hash)
	}

	if !Verify(hash, "secret1") {
		t.Fatal("expected match for correct password")
	}
	if Verify(hash, "secret2") {
		t.Fatal("expected mismatch for wrong password")
	}
}

func TestHashesAreSalted(t *testing.T) {
	first, err := Hash("secret1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := Hash("secret1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct hashes for the same password")
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	if Verify("not-a-hash", "secret1") {
		t.Fatal("expected mismatch for malformed hash")
	}
}
