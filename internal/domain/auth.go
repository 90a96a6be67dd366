// internal/domain/auth.go
package domain

import "crypto/subtle"

// CheckAPIKey compares a caller key with the shared service secret. An
// empty secret accepts nothing.
func CheckAPIKey(op, secret, key string) error {
	if secret == "" || key == "" {
		return AuthorizationFailure(op)
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(key)) != 1 {
		return AuthorizationFailure(op)
	}
	return nil
}
