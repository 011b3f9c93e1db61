package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dice-game-bot/internal/model"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "+1 (555) 123-4567", want: "+15551234567"},
		{in: "  8 912 345 67 89 ", want: "89123456789"},
		{in: "12345", want: "12345"},
		{in: "1234", wantErr: true},
		{in: "+1234567890123456", wantErr: true},
		{in: "", wantErr: true},
		{in: "555-CALL-NOW", wantErr: true},
		{in: "12+345678", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhone(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPhone)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAccountService_Register(t *testing.T) {
	store := newMemStore()
	svc := NewAccountService(store)
	ctx := context.Background()

	acc, err := svc.Register(ctx, "")
	require.NoError(t, err)
	assert.False(t, acc.HasPhone())
	assert.False(t, acc.IsBound())
	assert.Zero(t, acc.Points)
	assert.Zero(t, acc.Plays)

	acc, err = svc.Register(ctx, "+1 555 000 1111")
	require.NoError(t, err)
	require.True(t, acc.HasPhone())
	assert.Equal(t, "+15550001111", *acc.Phone)

	_, err = svc.Register(ctx, "abc")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestAccountService_FirstPlayable(t *testing.T) {
	store := newMemStore()
	svc := NewAccountService(store)
	ctx := context.Background()

	_, err := svc.FirstPlayable(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	store.add(model.Account{})
	store.add(model.Account{Phone: ptr("+15550001"), IsBlocked: true})
	want := store.add(model.Account{Phone: ptr("+15550002")})
	store.add(model.Account{Phone: ptr("+15550003")})

	acc, err := svc.FirstPlayable(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.AccountID, acc.AccountID)
}

func TestAccountService_SetBlocked(t *testing.T) {
	store := newMemStore()
	svc := NewAccountService(store)
	acc := store.add(model.Account{Phone: ptr("+15550001")})
	ctx := context.Background()

	got, err := svc.SetBlocked(ctx, acc.AccountID, true)
	require.NoError(t, err)
	assert.True(t, got.IsBlocked)

	engine := NewRoundEngine(store, nil, RoundConfig{}, nil, nil)
	_, err = engine.PlayRound(ctx, acc.AccountID)
	assert.ErrorIs(t, err, ErrBlocked)

	_, err = svc.SetBlocked(ctx, acc.AccountID, false)
	require.NoError(t, err)
	_, err = engine.PlayRound(ctx, acc.AccountID)
	assert.NoError(t, err)

	_, err = svc.SetBlocked(ctx, 404, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccountService_SetPhone(t *testing.T) {
	store := newMemStore()
	svc := NewAccountService(store)
	acc := store.add(model.Account{ExternalID: ptr(int64(900))})
	ctx := context.Background()

	_, err := svc.SetPhone(ctx, 901, "+15550001")
	assert.ErrorIs(t, err, ErrUnbound)

	_, err = svc.SetPhone(ctx, 900, "x")
	assert.ErrorIs(t, err, ErrInvalidPhone)

	got, err := svc.SetPhone(ctx, 900, "+1 555-0001")
	require.NoError(t, err)
	assert.Equal(t, acc.AccountID, got.AccountID)
	require.NotNil(t, got.Phone)
	assert.Equal(t, "+15550001", *got.Phone)
}
