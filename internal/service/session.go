package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmrl23/keygate/internal/auth"
	"github.com/jmrl23/keygate/internal/cache"
)

// SessionService maps opaque bearer tokens to user ids. Tokens are
// signed JWTs, but a token is only a live session while its cache entry
// exists: logout (or TTL) deletes the entry and the token is dead even
// though its signature stays valid until exp.
type SessionService struct {
	cache  cache.Cache
	signer *auth.TokenSigner
}

func NewSessionService(c cache.Cache, signer *auth.TokenSigner) *SessionService {
	return &SessionService{cache: c, signer: signer}
}

// CreateSession issues a token for the user and registers it with a
// matching cache TTL.
func (s *SessionService) CreateSession(ctx context.Context, userID uuid.UUID, ttl time.Duration) (string, error) {
	token, err := s.signer.Sign(userID, ttl)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	if err := cache.SetJSON(ctx, s.cache, cache.SessionKey(token), userID, ttl); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// GetSession resolves a token to a user id. ok is false for a bad
// signature, an expired token, or a token with no live cache entry.
func (s *SessionService) GetSession(ctx context.Context, token string) (uuid.UUID, bool, error) {
	claims, err := s.signer.Verify(token)
	if err != nil {
		return uuid.Nil, false, nil
	}

	userID, res, err := cache.GetJSON[uuid.UUID](ctx, s.cache, cache.SessionKey(token))
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("get session: %w", err)
	}
	if res != cache.Hit || userID != claims.UserID {
		return uuid.Nil, false, nil
	}
	return userID, true, nil
}

// DeleteSession logs the token out.
func (s *SessionService) DeleteSession(ctx context.Context, token string) error {
	return s.cache.Delete(ctx, cache.SessionKey(token))
}
