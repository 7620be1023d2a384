package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"generation-gateway/internal/keypool"
	"generation-gateway/internal/repository/postgresql"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrKeyNotFound      = errors.New("api key not found")
)

type ProviderResolver interface {
	ProviderIDBySlug(ctx context.Context, slug string) (uuid.UUID, error)
}

type KeyAdmin interface {
	List(ctx context.Context, providerID uuid.UUID) ([]keypool.KeyView, error)
	Reset(ctx context.Context, keyID uuid.UUID) error
}

// KeyService exposes key health for operators.
type KeyService struct {
	providers ProviderResolver
	keys      KeyAdmin
}

func NewKeyService(providers ProviderResolver, keys KeyAdmin) *KeyService {
	return &KeyService{providers: providers, keys: keys}
}

func (s *KeyService) ListKeys(ctx context.Context, providerSlug string) ([]keypool.KeyView, error) {
	id, err := s.providers.ProviderIDBySlug(ctx, providerSlug)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerSlug)
		}
		return nil, err
	}
	return s.keys.List(ctx, id)
}

func (s *KeyService) ResetKey(ctx context.Context, keyID uuid.UUID) error {
	err := s.keys.Reset(ctx, keyID)
	if errors.Is(err, postgresql.ErrNotFound) || errors.Is(err, keypool.ErrKeyNotFound) {
		return ErrKeyNotFound
	}
	return err
}
