// Package handler provides the Telegram command handlers and the web API.
package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"dice-game-bot/internal/model"
	"dice-game-bot/internal/service"
)

// handlerTimeout bounds the storage work behind a single bot command.
const handlerTimeout = 10 * time.Second

// IdentityService binds Telegram users and looks their accounts up.
type IdentityService interface {
	Bind(ctx context.Context, externalID int64) (*model.Account, error)
	Lookup(ctx context.Context, id service.Identifier) (*model.Account, error)
}

// PhoneService stores phone numbers shared through the bot.
type PhoneService interface {
	SetPhone(ctx context.Context, externalID int64, phone string) (*model.Account, error)
}

// PlayQuota reports the play cap and what is left of it.
type PlayQuota interface {
	MaxPlays() int
	PlaysLeft(acc *model.Account) int
}

// AccountHandler handles the player commands.
type AccountHandler struct {
	identity  IdentityService
	phones    PhoneService
	quota     PlayQuota
	publicURL string
}

// NewAccountHandler creates a new AccountHandler.
// publicURL is the externally reachable base URL of the web game.
func NewAccountHandler(identity IdentityService, phones PhoneService, quota PlayQuota, publicURL string) *AccountHandler {
	return &AccountHandler{
		identity:  identity,
		phones:    phones,
		quota:     quota,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// HandleStart handles the /start command.
func (h *AccountHandler) HandleStart(c tele.Context) error {
	return c.Reply("🎲 欢迎来到骰子游戏机器人！\n\n" +
		"发送 /bind 绑定游戏账户，/help 查看全部命令")
}

// HandleHelp handles the /help command.
func (h *AccountHandler) HandleHelp(c tele.Context) error {
	return c.Reply(fmt.Sprintf(
		"🎲 骰子游戏\n\n"+
			"和机器人各掷一次骰子，点数大者获胜：\n"+
			"赢 +10 分，输 -5 分，平局 0 分，每个账户最多 %d 次。\n\n"+
			"可用命令:\n"+
			"/bind - 绑定游戏账户\n"+
			"/me - 查看我的账户\n"+
			"/play - 打开游戏页面\n"+
			"分享联系人 - 授权手机号",
		h.quota.MaxPlays(),
	))
}

// HandleBind handles the /bind command.
// Links the sender to the oldest unbound account.
func (h *AccountHandler) HandleBind(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	acc, err := h.identity.Bind(ctx, sender.ID)
	if err != nil {
		if service.IsEligibilityOutcome(err) {
			return c.Reply("❌ " + outcomeMessage(err))
		}
		return c.Reply("❌ 绑定失败，请稍后重试")
	}

	text := fmt.Sprintf(
		"✅ 绑定成功！\n\n"+
			"🆔 账户 ID: %d\n"+
			"💰 积分: %d",
		acc.AccountID, acc.Points,
	)
	if acc.HasPhone() {
		return c.Reply(text + "\n\n发送 /play 开始游戏")
	}

	text += "\n\n📱 开始游戏前请先分享你的手机号"
	if chat := c.Chat(); chat != nil && chat.Type == tele.ChatPrivate {
		return c.Reply(text, contactKeyboard())
	}
	return c.Reply(text + "（请在私聊中操作）")
}

// HandleMe handles the /me command.
func (h *AccountHandler) HandleMe(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	acc, err := h.identity.Lookup(ctx, service.ExternalIdentifier(sender.ID))
	if err != nil {
		return c.Reply("❌ " + outcomeMessage(err))
	}

	phone := "未授权"
	if acc.HasPhone() {
		phone = maskPhone(*acc.Phone)
	}
	status := "正常"
	if acc.IsBlocked {
		status = "已封禁"
	}

	return c.Reply(fmt.Sprintf(
		"👤 我的账户\n\n"+
			"🆔 账户 ID: %d\n"+
			"💰 积分: %d\n"+
			"🎲 已玩: %d / %d\n"+
			"🎯 剩余次数: %d\n"+
			"📱 手机号: %s\n"+
			"📌 状态: %s",
		acc.AccountID, acc.Points,
		acc.Plays, h.quota.MaxPlays(),
		h.quota.PlaysLeft(acc),
		phone, status,
	))
}

// HandlePlay handles the /play command.
// Replies with a button opening the web game for the sender's account.
func (h *AccountHandler) HandlePlay(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	acc, err := h.identity.Lookup(ctx, service.ExternalIdentifier(sender.ID))
	if err != nil {
		return c.Reply("❌ " + outcomeMessage(err))
	}
	if !acc.HasPhone() {
		return c.Reply("❌ " + msgPhoneRequired)
	}

	link := h.gameURL(sender.ID)
	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(markup.URL("🎲 开始游戏", link)))

	return c.Reply(fmt.Sprintf("🎯 剩余次数: %d\n%s", h.quota.PlaysLeft(acc), link), markup)
}

// HandleContact stores the phone number from a shared contact.
// Only the sender's own contact is accepted.
func (h *AccountHandler) HandleContact(c tele.Context) error {
	sender := c.Sender()
	msg := c.Message()
	if sender == nil || msg == nil || msg.Contact == nil {
		return nil
	}

	if msg.Contact.UserID != sender.ID {
		return c.Reply("❌ 请分享你自己的手机号")
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	_, err := h.phones.SetPhone(ctx, sender.ID, msg.Contact.PhoneNumber)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidPhone):
		return c.Reply("❌ 手机号格式无效")
	case service.IsEligibilityOutcome(err):
		return c.Reply("❌ " + outcomeMessage(err))
	default:
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to save phone")
		return c.Reply("❌ 保存手机号失败，请稍后重试")
	}

	log.Info().Int64("user_id", sender.ID).Msg("Phone number saved")
	return c.Reply("✅ 手机号已保存，发送 /play 开始游戏", &tele.ReplyMarkup{RemoveKeyboard: true})
}

func (h *AccountHandler) gameURL(externalID int64) string {
	return fmt.Sprintf("%s/dice_game?telegram_id=%d", h.publicURL, externalID)
}

func contactKeyboard() *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
	markup.Reply(markup.Row(markup.Contact("📱 分享手机号")))
	return markup
}

// maskPhone keeps the first three and last two characters.
func maskPhone(phone string) string {
	r := []rune(phone)
	if len(r) <= 5 {
		return phone
	}
	return string(r[:3]) + strings.Repeat("*", len(r)-5) + string(r[len(r)-2:])
}
