package validation

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

// ValidateEmail はメールアドレスを検証する。入力はサニタイズしてから評価する。
func ValidateEmail(email string) Result {
	s := strings.TrimSpace(SanitizeInput(email))
	length := utf8.RuneCountInString(s)

	switch {
	case !isEmailAddress(s):
		return invalid("Invalid email format")
	case length < 5:
		return invalid("Email is too short")
	case length > 254:
		return invalid("Email is too long")
	case ContainsForbiddenChars(s):
		return invalid("Email contains invalid characters")
	}
	return valid()
}

// isEmailAddress は表示名を含まない単一のアドレスかを判定する。
func isEmailAddress(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	return at > 0 && strings.Contains(s[at+1:], ".")
}

// ValidateVerificationCode は6桁の検証コードを検証する。
func ValidateVerificationCode(code string) Result {
	if code == "" {
		return invalid("Verification code is required")
	}
	if !sixDigitsPattern.MatchString(code) {
		return invalid("Verification code must be 6 digits")
	}
	return valid()
}

// ValidateNickname はニックネームを検証する。入力はサニタイズしてから評価する。
func ValidateNickname(nickname string) Result {
	s := strings.TrimSpace(SanitizeInput(nickname))
	length := utf8.RuneCountInString(s)

	switch {
	case length < 4:
		return invalid("Nickname must be at least 4 characters")
	case length > 20:
		return invalid("Nickname must be at most 20 characters")
	case !nicknamePattern.MatchString(s):
		return invalid("Nickname can only contain letters, numbers, underscores, and hyphens")
	}
	return valid()
}

// ValidatePassword はIdPのパスワードポリシーに沿って検証する。
// パスワードはサニタイズしない。
func ValidatePassword(password string) Result {
	length := utf8.RuneCountInString(password)

	switch {
	case length < 8:
		return invalid("Password must be at least 8 characters")
	case length > 256:
		return invalid("Password is too long")
	case !lowerPattern.MatchString(password):
		return invalid("Password must contain at least one lowercase letter")
	case !upperPattern.MatchString(password):
		return invalid("Password must contain at least one uppercase letter")
	case !digitPattern.MatchString(password):
		return invalid("Password must contain at least one number")
	case !specialPattern.MatchString(password):
		return invalid("Password must contain at least one special character")
	case ContainsForbiddenChars(password):
		return invalid("Password contains invalid characters")
	}
	return valid()
}
