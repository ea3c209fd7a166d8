package service

import (
	"context"
	"errors"
	"fmt"

	"forumchat/internal/domain"
	"forumchat/internal/security"
)

// IdentityService resolves bearer credentials to active identities.
type IdentityService struct {
	tokens    *security.TokenService
	directory domain.DirectoryRepository
}

func NewIdentityService(tokens *security.TokenService, directory domain.DirectoryRepository) *IdentityService {
	return &IdentityService{tokens: tokens, directory: directory}
}

// Authenticate returns the identity behind token. Missing, invalid or expired
// tokens and unknown or inactive identities all yield ErrUnauthenticated.
func (s *IdentityService) Authenticate(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, domain.ErrUnauthenticated
	}
	id, err := s.tokens.IdentityID(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	return s.Lookup(ctx, id)
}

// Lookup re-reads an identity, failing with ErrUnauthenticated when it is
// gone or deactivated.
func (s *IdentityService) Lookup(ctx context.Context, id int64) (*domain.Identity, error) {
	ident, err := s.directory.GetIdentity(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	if !ident.IsActive {
		return nil, domain.ErrUnauthenticated
	}
	return ident, nil
}
