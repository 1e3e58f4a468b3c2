package internal

import (
	"regexp"
	"testing"
)

func TestGeneratePlaceholderProfile(t *testing.T) {
	usernameRegexp := regexp.MustCompile(`^[a-z]+_[a-z]+[1-9][0-9]{3}$`)
	nicknameRegexp := regexp.MustCompile(`^[A-Z][a-z]+ [A-Z][a-z]+$`)
	for i := 0; i < 100; i++ {
		p := GeneratePlaceholderProfile()
		if !usernameRegexp.MatchString(p.Username) {
			t.Fatalf("unexpected username format: %q", p.Username)
		}
		if !nicknameRegexp.MatchString(p.Nickname) {
			t.Fatalf("unexpected nickname format: %q", p.Nickname)
		}
	}
}
