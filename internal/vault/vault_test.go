package vault

import "testing"

func testVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(Config{Passphrase: "test-passphrase", Salt: []byte("fixed-test-salt-value")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := testVault(t)

	blob, err := v.Encrypt("sk-ant-api03-secret-value")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if blob == "" {
		t.Fatal("Encrypt returned empty blob")
	}

	got := v.Decrypt(blob)
	if got != "sk-ant-api03-secret-value" {
		t.Fatalf("Decrypt = %q, want original plaintext", got)
	}
}

func TestDecryptCacheHit(t *testing.T) {
	v := testVault(t)
	blob, _ := v.Encrypt("cached-value")

	first := v.Decrypt(blob)
	second := v.Decrypt(blob)
	if first != second || first != "cached-value" {
		t.Fatalf("Decrypt mismatch: %q vs %q", first, second)
	}
	if v.Stats().Hits < 1 {
		t.Fatal("expected at least one cache hit on second Decrypt")
	}
}

func TestDecryptMalformedNeverErrors(t *testing.T) {
	v := testVault(t)

	cases := []string{"", "not-a-blob", "deadbeef", "deadbeef:zz", "00112233445566778899aabbccddeeff:00"}
	for _, c := range cases {
		got := v.Decrypt(c)
		if got != "" {
			t.Fatalf("Decrypt(%q) = %q, want empty string", c, got)
		}
	}
}

func TestNewRejectsEmptyPassphraseOrSalt(t *testing.T) {
	if _, err := New(Config{Salt: []byte("s")}); err == nil {
		t.Fatal("expected error for empty passphrase")
	}
	if _, err := New(Config{Passphrase: "p"}); err == nil {
		t.Fatal("expected error for empty salt")
	}
}
