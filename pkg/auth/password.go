package auth

import (
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	upperRe   = regexp.MustCompile(`[A-Z]`)
	lowerRe   = regexp.MustCompile(`[a-z]`)
	digitRe   = regexp.MustCompile(`[0-9]`)
	specialRe = regexp.MustCompile(`[^A-Za-z0-9]`)
	emailRe   = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// VerifyPassword compares a plain password with a hashed password
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// PasswordProblems lists every strength rule the password breaks; an empty
// result means the password is acceptable.
func PasswordProblems(password string) []string {
	var problems []string
	if len(password) < 8 {
		problems = append(problems, "password must be at least 8 characters long")
	}
	if len(password) > 72 {
		// bcrypt ignores everything past 72 bytes
		problems = append(problems, "password must not exceed 72 characters")
	}
	if !upperRe.MatchString(password) {
		problems = append(problems, "password must contain at least one uppercase letter")
	}
	if !lowerRe.MatchString(password) {
		problems = append(problems, "password must contain at least one lowercase letter")
	}
	if !digitRe.MatchString(password) {
		problems = append(problems, "password must contain at least one number")
	}
	if !specialRe.MatchString(password) {
		problems = append(problems, "password must contain at least one special character")
	}
	return problems
}

// IsValidEmail validates an email address format
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if len(email) < 3 || len(email) > 254 {
		return false
	}
	return emailRe.MatchString(email)
}

// NormalizeEmail trims and lowercases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
