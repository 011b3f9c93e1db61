// Package model defines the data models for the dice game.
package model

import "time"

// Account is a registered player record.
// ExternalID is the linked Telegram user id, nil while unbound.
// Phone is nil until the player has shared a phone number.
type Account struct {
	AccountID  int64      `db:"account_id"`
	ExternalID *int64     `db:"external_id"`
	Phone      *string    `db:"phone"`
	Points     int64      `db:"points"`
	Plays      int        `db:"plays"`
	IsBlocked  bool       `db:"is_blocked"`
	LastPlay   *time.Time `db:"last_play"`
	CreatedAt  time.Time  `db:"created_at"`
}

// IsBound reports whether the account is linked to a Telegram user.
func (a *Account) IsBound() bool {
	return a.ExternalID != nil
}

// HasPhone reports whether a phone number has been supplied.
func (a *Account) HasPhone() bool {
	return a.Phone != nil && *a.Phone != ""
}

// Result is the outcome of a single round.
type Result string

// Round results.
const (
	ResultWin  Result = "WIN"
	ResultLose Result = "LOSE"
	ResultDraw Result = "DRAW"
)

// Valid reports whether r is one of the known results.
func (r Result) Valid() bool {
	switch r {
	case ResultWin, ResultLose, ResultDraw:
		return true
	}
	return false
}

// HistoryEntry is an immutable record of one played round.
type HistoryEntry struct {
	ID           int64     `db:"id"`
	AccountID    int64     `db:"account_id"`
	CreatedAt    time.Time `db:"created_at"`
	UserScore    int       `db:"user_score"`
	BotScore     int       `db:"bot_score"`
	Result       Result    `db:"result"`
	PointsChange int64     `db:"points_change"`
}
