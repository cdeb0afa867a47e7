package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/omni/beacon-gateway/internal/dedup"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Inbound wires a Telegram bot's long-poll update stream to a message
// handler, gating each update through the dedup cache (keyed by
// update_id) and the allowlist/mention rules before handoff.
type Inbound struct {
	account *Account
	bot     *tgbotapi.BotAPI
	dedup   *dedup.Cache
	logger  *slog.Logger
	onMsg   func(IncomingMessage)
}

// NewInbound builds an inbound pipeline for an already-connected account.
func NewInbound(account *Account, bot *tgbotapi.BotAPI, logger *slog.Logger, onMessage func(IncomingMessage)) *Inbound {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbound{
		account: account,
		bot:     bot,
		dedup:   dedup.New(),
		logger:  logger.With("component", "telegram.inbound", "account", account.ID),
		onMsg:   onMessage,
	}
}

// Run long-polls for updates until ctx is cancelled, reconnecting on
// stall or channel closure with exponential backoff.
func (in *Inbound) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := in.bot.GetUpdatesChan(u)

		err := in.poll(ctx, updates)
		in.bot.StopReceivingUpdates()

		if err == nil {
			return nil
		}

		in.logger.Warn("telegram poll disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (in *Inbound) poll(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second
	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			in.handleUpdate(update)

		case <-timer.C:
			return fmt.Errorf("no updates received for %v", stallTimeout)
		}
	}
}

func (in *Inbound) handleUpdate(update tgbotapi.Update) {
	key := strconv.Itoa(update.UpdateID)
	if in.dedup.IsDuplicate(key) {
		in.logger.Debug("dropping duplicate update", "update_id", update.UpdateID)
		return
	}

	if update.Message == nil {
		return
	}
	msg := update.Message

	// channel_post and anonymous-admin messages carry a nil From; log
	// and process them as unattributed rather than panicking.
	var userID, username string
	if msg.From != nil {
		userID = strconv.FormatInt(msg.From.ID, 10)
		username = msg.From.UserName

		if len(in.account.Config.AllowedIDs) > 0 {
			if _, allowed := in.account.Config.AllowedIDs[msg.From.ID]; !allowed {
				in.logger.Warn("telegram access denied", "user_id", msg.From.ID, "username", msg.From.UserName)
				return
			}
		}
	} else {
		in.logger.Debug("telegram message with no sender", "chat_id", msg.Chat.ID, "message_id", msg.MessageID)
	}

	chatType := msg.Chat.Type
	hasReply := msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.IsBot

	incoming := IncomingMessage{
		ChannelID:    strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:    strconv.Itoa(msg.MessageID),
		UserID:       userID,
		Username:     username,
		Content:      msg.Text,
		ChatType:     chatType,
		IsReplyToBot: hasReply,
	}

	if ShouldSkipGroupMessage(incoming, chatType, hasReply, in.account.Config) {
		return
	}

	if in.onMsg != nil {
		in.onMsg(incoming)
	}
}

// ShouldSkipGroupMessage reports whether a group/supergroup message
// should be dropped for lack of an explicit mention: it is skipped
// only when mention-gating is configured and the message neither
// mentions "@{bot_username}" nor replies to the bot.
func ShouldSkipGroupMessage(msg IncomingMessage, chatType string, hasReply bool, cfg AccountConfig) bool {
	isGroup := chatType == "group" || chatType == "supergroup"
	if !isGroup || !cfg.RequireMentionInGroups {
		return false
	}

	mentioned := hasReply
	if cfg.BotUsername != "" && containsMention(msg.Content, cfg.BotUsername) {
		mentioned = true
	}
	return !mentioned
}

func containsMention(content, username string) bool {
	return strings.Contains(content, "@"+username)
}
