package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"dice-game-bot/internal/model"
	"dice-game-bot/internal/repository"
)

// memStore is an in-memory stand-in for the Postgres repositories. One
// mutex plays the role of the account row lock and the transaction:
// changes staged by fn are applied only when fn returns nil.
type memStore struct {
	mu       sync.Mutex
	accounts map[int64]*model.Account
	history  []*model.HistoryEntry
	nextID   int64

	// failRecord, when set, is returned by RecordRound.
	failRecord error
	// failReads, when set, is returned by every read.
	failReads error
}

func newMemStore() *memStore {
	return &memStore{accounts: make(map[int64]*model.Account)}
}

func (s *memStore) add(acc model.Account) *model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	if acc.AccountID == 0 {
		acc.AccountID = s.nextID
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.nextID) * time.Minute)
	}
	stored := acc
	s.accounts[acc.AccountID] = &stored
	out := stored
	return &out
}

func (s *memStore) get(id int64) model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.accounts[id]
}

func (s *memStore) historyFor(id int64) []*model.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.HistoryEntry
	for _, e := range s.history {
		if e.AccountID == id {
			c := *e
			out = append(out, &c)
		}
	}
	return out
}

func (s *memStore) WithLockedAccount(ctx context.Context, accountID int64, fn repository.RoundFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failReads != nil {
		return s.failReads
	}
	acc, ok := s.accounts[accountID]
	if !ok {
		return repository.ErrAccountNotFound
	}

	snapshot := *acc
	w := &memWriter{store: s, acc: *acc}
	if err := fn(ctx, &snapshot, w); err != nil {
		return err
	}
	if w.recorded {
		*acc = w.acc
		s.history = append(s.history, w.entry)
	}
	return nil
}

type memWriter struct {
	store    *memStore
	acc      model.Account
	entry    *model.HistoryEntry
	recorded bool
}

func (w *memWriter) RecordRound(_ context.Context, u repository.RoundUpdate, entry *model.HistoryEntry) (int64, error) {
	if w.store.failRecord != nil {
		return 0, w.store.failRecord
	}

	w.acc.Points += u.PointsChange
	if u.ResetPlays {
		w.acc.Plays = 1
	} else {
		w.acc.Plays++
	}
	playedAt := u.PlayedAt
	w.acc.LastPlay = &playedAt

	w.store.nextID++
	entry.ID = w.store.nextID
	entry.AccountID = w.acc.AccountID
	entry.CreatedAt = u.PlayedAt
	c := *entry
	w.entry = &c
	w.recorded = true

	return w.acc.Points, nil
}

func (s *memStore) GetByID(_ context.Context, accountID int64) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failReads != nil {
		return nil, s.failReads
	}
	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	c := *acc
	return &c, nil
}

func (s *memStore) GetByExternalID(_ context.Context, externalID int64) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failReads != nil {
		return nil, s.failReads
	}
	for _, acc := range s.accounts {
		if acc.ExternalID != nil && *acc.ExternalID == externalID {
			c := *acc
			return &c, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (s *memStore) Bind(_ context.Context, externalID int64) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unbound []*model.Account
	for _, acc := range s.accounts {
		if acc.ExternalID != nil && *acc.ExternalID == externalID {
			return nil, repository.ErrAlreadyBound
		}
		if acc.ExternalID == nil {
			unbound = append(unbound, acc)
		}
	}
	if len(unbound) == 0 {
		return nil, repository.ErrNoAccountAvailable
	}

	sort.Slice(unbound, func(i, j int) bool {
		if unbound[i].CreatedAt.Equal(unbound[j].CreatedAt) {
			return unbound[i].AccountID < unbound[j].AccountID
		}
		return unbound[i].CreatedAt.Before(unbound[j].CreatedAt)
	})

	target := unbound[0]
	ext := externalID
	target.ExternalID = &ext
	c := *target
	return &c, nil
}

func (s *memStore) Create(_ context.Context, phone *string) (*model.Account, error) {
	return s.add(model.Account{Phone: phone}), nil
}

func (s *memStore) FirstPlayable(_ context.Context) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *model.Account
	for _, acc := range s.accounts {
		if !acc.HasPhone() || acc.IsBlocked {
			continue
		}
		if best == nil || acc.CreatedAt.Before(best.CreatedAt) {
			best = acc
		}
	}
	if best == nil {
		return nil, repository.ErrAccountNotFound
	}
	c := *best
	return &c, nil
}

func (s *memStore) SetBlocked(_ context.Context, accountID int64, blocked bool) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	acc.IsBlocked = blocked
	c := *acc
	return &c, nil
}

func (s *memStore) SetPhoneByExternalID(_ context.Context, externalID int64, phone string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acc := range s.accounts {
		if acc.ExternalID != nil && *acc.ExternalID == externalID {
			p := phone
			acc.Phone = &p
			c := *acc
			return &c, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (s *memStore) ListByAccount(_ context.Context, accountID int64, limit int) ([]*model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failReads != nil {
		return nil, s.failReads
	}
	var out []*model.HistoryEntry
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		if s.history[i].AccountID == accountID {
			c := *s.history[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

// sequenceRoller returns values in order, cycling when exhausted.
type sequenceRoller struct {
	mu     sync.Mutex
	values []int
	next   int
}

func (r *sequenceRoller) Roll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.values[r.next%len(r.values)]
	r.next++
	return v
}

// chanNotifier records notifications on a channel.
type chanNotifier struct {
	ch chan notification
}

type notification struct {
	externalID int64
	result     *RoundResult
}

func (n *chanNotifier) NotifyRound(_ context.Context, externalID int64, result *RoundResult) error {
	n.ch <- notification{externalID: externalID, result: result}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
