package handler

import (
	"errors"

	"dice-game-bot/internal/service"
)

// Player-facing texts shared by the web API and the bot.
const (
	msgMissingID          = "缺少 user_id 参数"
	msgInvalidID          = "user_id 参数无效"
	msgNotRegistered      = "用户未注册"
	msgUnbound            = "该 Telegram 账号尚未绑定，请先在机器人中发送 /bind"
	msgBlocked            = "你已被封禁"
	msgPhoneRequired      = "请先授权手机号"
	msgLimitReached       = "已达游戏次数上限"
	msgAlreadyBound       = "你的 Telegram 账号已经绑定过了"
	msgNoAccountAvailable = "暂无可绑定的账户，请联系管理员"
	msgServerError        = "服务器错误"
	msgNoPlayableAccount  = "❌ 没有可用的用户，请先注册或授权手机号"
)

// outcomeMessage returns the player-facing text for an error returned by
// the service layer. Anything unrecognised is reported as a server error.
func outcomeMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrNotRegistered), errors.Is(err, service.ErrNotFound):
		return msgNotRegistered
	case errors.Is(err, service.ErrUnbound):
		return msgUnbound
	case errors.Is(err, service.ErrBlocked):
		return msgBlocked
	case errors.Is(err, service.ErrPhoneRequired):
		return msgPhoneRequired
	case errors.Is(err, service.ErrLimitReached):
		return msgLimitReached
	case errors.Is(err, service.ErrAlreadyBound):
		return msgAlreadyBound
	case errors.Is(err, service.ErrNoAccountAvailable):
		return msgNoAccountAvailable
	default:
		return msgServerError
	}
}
