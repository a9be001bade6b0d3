package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/google/uuid"
)

const apiKeyPrefix = "dck_"

// Caller is the authenticated identity attached to a request.
type Caller struct {
	KeyID    string
	Name     string
	Elevated bool
}

// APIKeyRepositoryInterface defines the interface for api key persistence
type APIKeyRepositoryInterface interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByID(ctx context.Context, id string) (*domain.APIKey, error)
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	Revoke(ctx context.Context, id string) error
	HasGrant(ctx context.Context, keyID, slug string) (bool, error)
	Grant(ctx context.Context, keyID, slug string) error
}

// AuthService validates API keys and evaluates the per-document access
// gate. The gate is consulted once per requested document per request.
type AuthService struct {
	keys APIKeyRepositoryInterface
}

// NewAuthService creates a new AuthService instance
func NewAuthService(keys APIKeyRepositoryInterface) *AuthService {
	return &AuthService{keys: keys}
}

// CreateAPIKey mints a new key and returns the raw token exactly once; only
// its hash is stored.
func (s *AuthService) CreateAPIKey(ctx context.Context, name string, elevated bool) (string, *domain.APIKey, error) {
	if name == "" {
		return "", nil, domain.NewDomainError(domain.ErrCodeValidation, "key name is required")
	}

	token, err := generateAPIToken()
	if err != nil {
		return "", nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate API key", err)
	}

	key := &domain.APIKey{
		ID:        uuid.NewString(),
		Name:      name,
		KeyHash:   hashToken(token),
		Elevated:  elevated,
		CreatedAt: time.Now().UTC(),
	}
	if err := domain.ValidateAPIKey(key); err != nil {
		return "", nil, err
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return token, key, nil
}

// ValidateAPIKey resolves a raw token to its caller identity.
func (s *AuthService) ValidateAPIKey(ctx context.Context, token string) (*Caller, error) {
	if !IsValidAPIToken(token) {
		return nil, domain.ErrInvalidAPIKey
	}

	key, err := s.keys.GetByHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrAPIKeyNotFound) {
			return nil, domain.ErrInvalidAPIKey
		}
		return nil, err
	}
	if key.IsRevoked() {
		return nil, domain.ErrAPIKeyRevoked
	}
	return &Caller{KeyID: key.ID, Name: key.Name, Elevated: key.Elevated}, nil
}

// MayAccess reports whether the caller may use the document. Elevated keys
// may access everything; other keys need an explicit grant.
func (s *AuthService) MayAccess(ctx context.Context, callerID, slug string) (bool, error) {
	if callerID == "" {
		return false, nil
	}
	key, err := s.keys.GetByID(ctx, callerID)
	if err != nil {
		if errors.Is(err, domain.ErrAPIKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if key.IsRevoked() {
		return false, nil
	}
	if key.Elevated {
		return true, nil
	}
	return s.keys.HasGrant(ctx, callerID, slug)
}

// GrantAccess records a per-document grant for a key.
func (s *AuthService) GrantAccess(ctx context.Context, keyID, slug string) error {
	if _, err := s.keys.GetByID(ctx, keyID); err != nil {
		return err
	}
	return s.keys.Grant(ctx, keyID, slug)
}

func generateAPIToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(bytes), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// IsValidAPIToken checks the token's shape without touching storage.
func IsValidAPIToken(token string) bool {
	if !strings.HasPrefix(token, apiKeyPrefix) {
		return false
	}
	hexPart := token[len(apiKeyPrefix):]
	if len(hexPart) != 64 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}
