package auth

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

// sessionIDPattern はGenerateSessionIDが生成する形式。
var sessionIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// GenerateSessionID は暗号的に安全なセッションIDを生成する。
func GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ValidSessionID はCookieから受け取った値がセッションIDの形式かを返す。
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
