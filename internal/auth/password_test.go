package auth

import (
	"errors"
	"testing"
)

func TestHashAndVerifySecret(t *testing.T) {
	hash, err := HashSecret("Sturdy-Passw0rd")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	if hash == "Sturdy-Passw0rd" {
		t.Fatal("hash must not equal the plaintext")
	}
	if err := VerifySecret(hash, "Sturdy-Passw0rd"); err != nil {
		t.Fatalf("VerifySecret: %v", err)
	}
	if err := VerifySecret(hash, "sturdy-passw0rd"); err == nil {
		t.Fatal("wrong secret must not verify")
	}
}

func TestHashSecretRejectsEmpty(t *testing.T) {
	if _, err := HashSecret(""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestValidateSecretStrength(t *testing.T) {
	cases := []struct {
		secret string
		ok     bool
	}{
		{"Sturdy-Passw0rd", true},
		{"Abcdef12", true},
		{"Weak1", false},          // too short
		{"alllowercase1", false},  // no upper
		{"ALLUPPERCASE1", false},  // no lower
		{"NoDigitsHere", false},   // no digit
		{"Password1", false},      // blacklisted regardless of composition
	}
	for _, tc := range cases {
		err := ValidateSecretStrength(tc.secret)
		if tc.ok && err != nil {
			t.Fatalf("ValidateSecretStrength(%q): unexpected %v", tc.secret, err)
		}
		if !tc.ok {
			if !errors.Is(err, ErrWeakSecret) {
				t.Fatalf("ValidateSecretStrength(%q): expected ErrWeakSecret, got %v", tc.secret, err)
			}
		}
	}
}
