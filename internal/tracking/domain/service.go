package domain

import (
	"context"
	"errors"
)

var (
	ErrStorageUnavailable = errors.New("storage_unavailable")
	ErrProtectedField     = errors.New("protected_field")
	ErrUnknownField       = errors.New("unknown_field")
	ErrInvalidAdIdentity  = errors.New("invalid_ad_identity")
	ErrInvalidExperiment  = errors.New("invalid_experiment")
	ErrInvalidNavigation  = errors.New("invalid_navigation")
)

//go:generate mockgen -source=service.go -destination=../mocks/mock_service.go -package=mocks

// Locator resolves a client address to a country and currency.
type Locator interface {
	Locate(ctx context.Context, ip string) (Location, error)
}

type Location struct {
	CountryCode string
	Currency    string
}
