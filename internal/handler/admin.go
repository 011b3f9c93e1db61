package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"dice-game-bot/internal/model"
	"dice-game-bot/internal/service"
)

// AccountAdmin provisions and moderates accounts.
type AccountAdmin interface {
	Register(ctx context.Context, phone string) (*model.Account, error)
	SetBlocked(ctx context.Context, accountID int64, blocked bool) (*model.Account, error)
}

// AdminHandler handles admin-related commands.
type AdminHandler struct {
	accounts AccountAdmin
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(accounts AccountAdmin) *AdminHandler {
	return &AdminHandler{accounts: accounts}
}

// HandleAdminRegister handles the /admin_register command.
// Format: /admin_register [phone]
func (h *AdminHandler) HandleAdminRegister(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	phone := strings.Join(c.Args(), " ")

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	acc, err := h.accounts.Register(ctx, phone)
	if err != nil {
		if errors.Is(err, service.ErrInvalidPhone) {
			return c.Reply("❌ 手机号格式无效")
		}
		return c.Reply("❌ 创建账户失败，请稍后重试")
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Int64("account_id", acc.AccountID).
		Str("operation", "admin_register").
		Msg("Admin operation executed")

	phoneText := "未设置"
	if acc.HasPhone() {
		phoneText = *acc.Phone
	}
	return c.Reply(fmt.Sprintf(
		"✅ 账户已创建\n\n"+
			"🆔 账户 ID: %d\n"+
			"📱 手机号: %s",
		acc.AccountID, phoneText,
	))
}

// HandleAdminBlock handles the /admin_block command.
// Format: /admin_block <account_id>
func (h *AdminHandler) HandleAdminBlock(c tele.Context) error {
	return h.setBlocked(c, true)
}

// HandleAdminUnblock handles the /admin_unblock command.
// Format: /admin_unblock <account_id>
func (h *AdminHandler) HandleAdminUnblock(c tele.Context) error {
	return h.setBlocked(c, false)
}

func (h *AdminHandler) setBlocked(c tele.Context, blocked bool) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	accountID, err := parseAccountArg(c)
	if err != nil {
		return c.Reply(err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	acc, err := h.accounts.SetBlocked(ctx, accountID, blocked)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return c.Reply("❌ 账户不存在")
		}
		return c.Reply("❌ 操作失败，请稍后重试")
	}

	operation := "admin_unblock"
	text := "✅ 已解封"
	if blocked {
		operation = "admin_block"
		text = "✅ 已封禁"
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Int64("account_id", acc.AccountID).
		Str("operation", operation).
		Msg("Admin operation executed")

	return c.Reply(fmt.Sprintf("%s账户 %d", text, acc.AccountID))
}

// parseAccountArg parses the single <account_id> argument.
func parseAccountArg(c tele.Context) (int64, error) {
	args := c.Args()
	if len(args) != 1 {
		return 0, errors.New("❌ 格式错误\n用法: " + commandName(c) + " <账户ID>")
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("❌ 无效的账户 ID")
	}
	return id, nil
}

func commandName(c tele.Context) string {
	fields := strings.Fields(c.Text())
	if len(fields) == 0 {
		return "/command"
	}
	return strings.SplitN(fields[0], "@", 2)[0]
}
