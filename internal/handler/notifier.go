package handler

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v3"

	"dice-game-bot/internal/service"
)

// MessageSender is the part of *tele.Bot used to push messages.
type MessageSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// RoundNotifier tells a bound player about each round they played on the web.
type RoundNotifier struct {
	sender MessageSender
}

// NewRoundNotifier creates a new RoundNotifier.
func NewRoundNotifier(sender MessageSender) *RoundNotifier {
	return &RoundNotifier{sender: sender}
}

// NotifyRound sends the round summary to the player's private chat.
func (n *RoundNotifier) NotifyRound(ctx context.Context, externalID int64, res *service.RoundResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := n.sender.Send(&tele.User{ID: externalID}, formatRound(res))
	if err != nil {
		return fmt.Errorf("failed to send round notification: %w", err)
	}
	return nil
}

func formatRound(res *service.RoundResult) string {
	return fmt.Sprintf(
		"🎲 你: %d | 机器人: %d\n"+
			"%s\n\n"+
			"💰 当前积分: %d\n"+
			"🎯 剩余次数: %d",
		res.UserScore, res.BotScore,
		res.Message(),
		res.TotalPoints,
		res.PlaysLeft,
	)
}
