package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"dice-game-bot/internal/model"
	"dice-game-bot/internal/repository"
)

// ErrInvalidPhone is returned for an empty or malformed phone number.
var ErrInvalidPhone = errors.New("invalid phone number")

// AccountStore is the account storage used by AccountService.
type AccountStore interface {
	Create(ctx context.Context, phone *string) (*model.Account, error)
	FirstPlayable(ctx context.Context) (*model.Account, error)
	SetBlocked(ctx context.Context, accountID int64, blocked bool) (*model.Account, error)
	SetPhoneByExternalID(ctx context.Context, externalID int64, phone string) (*model.Account, error)
}

// AccountService handles account provisioning and administration.
// Points and plays are never touched here; only the round engine changes them.
type AccountService struct {
	store AccountStore
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(store AccountStore) *AccountService {
	return &AccountService{store: store}
}

// Register provisions a new unbound account, optionally with a phone.
func (s *AccountService) Register(ctx context.Context, phone string) (*model.Account, error) {
	var p *string
	if phone != "" {
		normalized, err := NormalizePhone(phone)
		if err != nil {
			return nil, err
		}
		p = &normalized
	}

	acc, err := s.store.Create(ctx, p)
	if err != nil {
		return nil, &SystemError{Op: "register account", Err: err}
	}

	log.Info().Int64("account_id", acc.AccountID).Bool("has_phone", acc.HasPhone()).Msg("Account registered")
	return acc, nil
}

// FirstPlayable returns the oldest account with a phone that is not blocked.
// Returns ErrNotFound when there is none.
func (s *AccountService) FirstPlayable(ctx context.Context) (*model.Account, error) {
	acc, err := s.store.FirstPlayable(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrNotFound
		}
		return nil, &SystemError{Op: "first playable account", Err: err}
	}
	return acc, nil
}

// SetBlocked sets or clears an account's block flag.
func (s *AccountService) SetBlocked(ctx context.Context, accountID int64, blocked bool) (*model.Account, error) {
	acc, err := s.store.SetBlocked(ctx, accountID, blocked)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrNotFound
		}
		return nil, &SystemError{Op: "set blocked", Err: err}
	}

	log.Info().Int64("account_id", accountID).Bool("blocked", blocked).Msg("Account block flag changed")
	return acc, nil
}

// SetPhone stores a phone number on the account bound to externalID.
// Returns ErrUnbound when the Telegram user has no account.
func (s *AccountService) SetPhone(ctx context.Context, externalID int64, phone string) (*model.Account, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	acc, err := s.store.SetPhoneByExternalID(ctx, externalID, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrUnbound
		}
		return nil, &SystemError{Op: "set phone", Err: err}
	}
	return acc, nil
}

// NormalizePhone strips formatting and keeps an optional leading '+'.
// The result must hold between 5 and 15 digits.
func NormalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)

	var b strings.Builder
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidPhone, r)
		}
	}

	out := b.String()
	digits := len(strings.TrimPrefix(out, "+"))
	if digits < 5 || digits > 15 {
		return "", fmt.Errorf("%w: expected 5-15 digits, got %d", ErrInvalidPhone, digits)
	}
	return out, nil
}
