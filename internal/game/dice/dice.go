// Package dice implements the player-versus-bot dice roll and its scoring.
package dice

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"dice-game-bot/internal/model"
)

const (
	// Faces is the number of faces on a die.
	Faces = 6

	// DefaultWinPoints is awarded when the player out-rolls the bot.
	DefaultWinPoints = 10

	// DefaultLosePoints is deducted when the bot out-rolls the player.
	DefaultLosePoints = 5
)

// ErrInvalidDice is returned for a die value outside [1, Faces].
var ErrInvalidDice = errors.New("dice values must be between 1 and 6")

// Roller draws a single die value in [1, Faces].
// Implementations must be safe for concurrent use.
type Roller interface {
	Roll() int
}

// RandomRoller draws uniformly distributed values from the runtime's
// concurrency-safe generator.
type RandomRoller struct{}

// Roll returns a uniform value in [1, Faces].
func (RandomRoller) Roll() int {
	return rand.IntN(Faces) + 1
}

// Scoring holds the point values of a round.
// LosePoints is a magnitude; Judge negates it.
type Scoring struct {
	WinPoints  int64
	LosePoints int64
}

// DefaultScoring returns +10 for a win and -5 for a loss.
func DefaultScoring() Scoring {
	return Scoring{WinPoints: DefaultWinPoints, LosePoints: DefaultLosePoints}
}

// Judge derives the result and points change from the two rolls.
// Rules:
//   - user > bot: WIN, +WinPoints
//   - user < bot: LOSE, -LosePoints
//   - user == bot: DRAW, 0
func (s Scoring) Judge(userScore, botScore int) (model.Result, int64) {
	switch {
	case userScore > botScore:
		return model.ResultWin, s.WinPoints
	case userScore < botScore:
		return model.ResultLose, -s.LosePoints
	default:
		return model.ResultDraw, 0
	}
}

// Validate checks that a die value is in range.
func Validate(value int) error {
	if value < 1 || value > Faces {
		return fmt.Errorf("%w: got %d", ErrInvalidDice, value)
	}
	return nil
}

// Message renders the player-facing result line, e.g. "你赢了！+10 分".
func Message(result model.Result, pointsChange int64) string {
	var verb string
	switch result {
	case model.ResultWin:
		verb = "赢"
	case model.ResultLose:
		verb = "输"
	default:
		verb = "平局"
	}

	sign := ""
	if pointsChange > 0 {
		sign = "+"
	}
	return fmt.Sprintf("你%s了！%s%d 分", verb, sign, pointsChange)
}
