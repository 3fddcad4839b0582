package auth

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/terminalnexus/tnchat/internal/core"
)

const minPasswordLen = 6

// ValidUsername reports whether name can be used as a chat nickname. Nicknames
// appear in whisper directives and private room ids, so they carry no whitespace
// and no slashes.
func ValidUsername(name string) bool {
	if len(name) < 3 || len(name) > 32 {
		return false
	}
	if name == core.AnonymousName || name == core.SystemName || strings.HasPrefix(name, "guest_") {
		return false
	}
	return !strings.ContainsFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || r == '/'
	})
}

func validPassword(password string) bool {
	// bcrypt ignores everything past 72 bytes.
	return len(password) >= minPasswordLen && len(password) <= 72
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func passwordMatches(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
