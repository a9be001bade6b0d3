package domain

import (
	"fmt"
	"time"
)

// APIKey authenticates a caller. Elevated keys bypass per-document grants
// and the quiz regeneration interval.
type APIKey struct {
	ID        string
	Name      string
	KeyHash   string
	Elevated  bool
	CreatedAt time.Time
	RevokedAt *time.Time
}

// IsRevoked returns true if the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// ValidateAPIKey validates an APIKey instance.
func ValidateAPIKey(k *APIKey) error {
	if k == nil {
		return fmt.Errorf("api key cannot be nil")
	}
	if k.ID == "" {
		return ErrMissingRequiredField
	}
	if k.Name == "" {
		return ErrMissingRequiredField
	}
	if k.KeyHash == "" {
		return ErrMissingRequiredField
	}
	return nil
}
