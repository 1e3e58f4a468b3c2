package media

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/cryptex-im/cryptex/internal"
)

func TestDecodeAvatar(t *testing.T) {
	payload := []byte("fake png bytes")
	encoded := base64.StdEncoding.EncodeToString(payload)

	decoded, err := DecodeAvatar(encoded)
	if err != nil {
		t.Fatalf("plain base64: %s", err)
	}
	if string(decoded) != string(payload) {
		t.Fatalf("got %q, want %q", decoded, payload)
	}

	decoded, err = DecodeAvatar("data:image/png;base64," + encoded)
	if err != nil {
		t.Fatalf("data URL: %s", err)
	}
	if string(decoded) != string(payload) {
		t.Fatalf("data URL payload mangled: %q", decoded)
	}

	if _, err = DecodeAvatar("not-base64!!!"); !internal.IsValidation(err) {
		t.Fatalf("garbage input: got %v, want validation error", err)
	}
	if _, err = DecodeAvatar(""); !internal.IsValidation(err) {
		t.Fatalf("empty input: got %v, want validation error", err)
	}

	oversized := base64.StdEncoding.EncodeToString(make([]byte, MaxAvatarBytes+1))
	_, err = DecodeAvatar(oversized)
	if !internal.IsValidation(err) {
		t.Fatalf("oversized input: got %v, want validation error", err)
	}
	if err != nil && !strings.Contains(err.Error(), "5MB") {
		t.Fatalf("oversize error should name the cap: %q", err)
	}
}
