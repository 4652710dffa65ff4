package utils

import (
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// Staff sign in with a short numeric PIN rather than a full password.
var pinPattern = regexp.MustCompile(`^[0-9]{4,8}$`)

func IsValidPin(pin string) bool {
	return pinPattern.MatchString(pin)
}

func HashPin(s string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
}

func ComparePin(hashed string, normal string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(normal))
}
