package crypto

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sealed, err := EncryptString("server-secret", "ghp_token_value")
	if err != nil {
		t.Fatalf("EncryptString returned error: %v", err)
	}
	plain, err := DecryptToString("server-secret", sealed)
	if err != nil {
		t.Fatalf("DecryptToString returned error: %v", err)
	}
	if plain != "ghp_token_value" {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestDecryptWithWrongSecretFails(t *testing.T) {
	sealed, err := EncryptString("secret-a", "value")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptToString("secret-b", sealed); err == nil {
		t.Fatal("expected decryption with wrong secret to fail")
	}
}

func TestDecryptTruncatedPayloadFails(t *testing.T) {
	if _, err := DecryptToString("secret", []byte{0x01, 0x02}); err == nil {
		t.Fatal("expected truncated payload to fail")
	}
}
