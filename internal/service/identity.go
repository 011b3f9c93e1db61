package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"dice-game-bot/internal/metrics"
	"dice-game-bot/internal/model"
	"dice-game-bot/internal/pkg/lock"
	"dice-game-bot/internal/repository"
)

// IdentifierKind tags how an inbound identifier should be resolved.
type IdentifierKind int

const (
	// KindAccountID is a raw account id.
	KindAccountID IdentifierKind = iota + 1
	// KindExternalID is a Telegram user id.
	KindExternalID
)

func (k IdentifierKind) String() string {
	switch k {
	case KindAccountID:
		return "account_id"
	case KindExternalID:
		return "external_id"
	default:
		return "unknown"
	}
}

// Identifier is an inbound account reference.
type Identifier struct {
	Kind  IdentifierKind
	Value int64
}

// AccountIdentifier returns an Identifier for a raw account id.
func AccountIdentifier(accountID int64) Identifier {
	return Identifier{Kind: KindAccountID, Value: accountID}
}

// ExternalIdentifier returns an Identifier for a Telegram user id.
func ExternalIdentifier(externalID int64) Identifier {
	return Identifier{Kind: KindExternalID, Value: externalID}
}

// IdentityStore is the account storage used by IdentityResolver.
type IdentityStore interface {
	GetByID(ctx context.Context, accountID int64) (*model.Account, error)
	GetByExternalID(ctx context.Context, externalID int64) (*model.Account, error)
	Bind(ctx context.Context, externalID int64) (*model.Account, error)
}

// bindLockTimeout bounds how long a duplicate /bind waits behind another.
const bindLockTimeout = 5 * time.Second

// IdentityResolver maps inbound identifiers to accounts and links
// Telegram users to unbound accounts.
type IdentityResolver struct {
	store    IdentityStore
	bindLock *lock.UserLock
	metrics  *metrics.Metrics
}

// NewIdentityResolver creates a new IdentityResolver instance.
// bindLock is keyed by Telegram user id.
func NewIdentityResolver(store IdentityStore, bindLock *lock.UserLock, m *metrics.Metrics) *IdentityResolver {
	if bindLock == nil {
		bindLock = lock.NewUserLock()
	}
	return &IdentityResolver{store: store, bindLock: bindLock, metrics: m}
}

// Resolve returns the account id for id. It fails with ErrNotFound for an
// unknown account id and ErrUnbound for a Telegram id with no account.
func (r *IdentityResolver) Resolve(ctx context.Context, id Identifier) (int64, error) {
	acc, err := r.Lookup(ctx, id)
	if err != nil {
		return 0, err
	}
	return acc.AccountID, nil
}

// Lookup is Resolve returning the whole account record.
func (r *IdentityResolver) Lookup(ctx context.Context, id Identifier) (*model.Account, error) {
	var (
		acc      *model.Account
		err      error
		notFound error
	)

	switch id.Kind {
	case KindAccountID:
		acc, err = r.store.GetByID(ctx, id.Value)
		notFound = ErrNotFound
	case KindExternalID:
		acc, err = r.store.GetByExternalID(ctx, id.Value)
		notFound = ErrUnbound
	default:
		return nil, fmt.Errorf("unknown identifier kind %d", id.Kind)
	}

	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, notFound
		}
		return nil, &SystemError{Op: "resolve " + id.Kind.String(), Err: err}
	}
	return acc, nil
}

// Bind links externalID to the oldest unbound account.
// Calls for the same externalID are serialized in-process; the database
// enforces exclusivity across processes.
func (r *IdentityResolver) Bind(ctx context.Context, externalID int64) (*model.Account, error) {
	acc, err := r.bind(ctx, externalID)

	outcome := "bound"
	switch {
	case errors.Is(err, ErrAlreadyBound):
		outcome = "already_bound"
	case errors.Is(err, ErrNoAccountAvailable):
		outcome = "no_account_available"
	case err != nil:
		outcome = "system_error"
	}
	r.metrics.ObserveBind(outcome)

	return acc, err
}

func (r *IdentityResolver) bind(ctx context.Context, externalID int64) (*model.Account, error) {
	var acc *model.Account
	err := r.bindLock.WithLockContext(ctx, externalID, bindLockTimeout, func() error {
		var err error
		acc, err = r.store.Bind(ctx, externalID)
		return err
	})

	switch {
	case err == nil:
		log.Info().
			Int64("external_id", externalID).
			Int64("account_id", acc.AccountID).
			Msg("Telegram account bound")
		return acc, nil
	case errors.Is(err, repository.ErrAlreadyBound):
		return nil, ErrAlreadyBound
	case errors.Is(err, repository.ErrNoAccountAvailable):
		return nil, ErrNoAccountAvailable
	default:
		return nil, &SystemError{Op: "bind", Err: err}
	}
}
