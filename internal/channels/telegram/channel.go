package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/omni/beacon-gateway/internal/chunk"
	"github.com/omni/beacon-gateway/internal/ratelimit"
	"github.com/omni/beacon-gateway/internal/retry"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramMessageLimit is the Bot API's hard cap on a single message's
// text length; chunk.DefaultLimit sits comfortably under it.
const telegramMessageLimit = chunk.DefaultLimit

// defaultStreamInterval bounds how often a streaming message is edited.
const defaultStreamInterval = time.Second

// TelegramChannel implements Channel against the Telegram Bot API.
type TelegramChannel struct {
	token  string
	logger *slog.Logger

	mu        sync.RWMutex
	bot       *tgbotapi.BotAPI
	connected bool

	limiter *ratelimit.ChatLimiter
	policy  retry.Policy
}

// New creates a Telegram channel adapter. Connect must be called before
// any other method is used.
func New(token string, logger *slog.Logger) *TelegramChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{
		token:   token,
		logger:  logger.With("component", "telegram"),
		limiter: ratelimit.New(defaultStreamInterval),
		policy:  retry.Default(),
	}
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Connect(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(c.token)
	if err != nil {
		return fmt.Errorf("telegram connect: %w", err)
	}
	c.mu.Lock()
	c.bot = bot
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("telegram channel connected", "bot_username", bot.Self.UserName)
	return nil
}

// BotAPI returns the underlying bot client for use by the inbound
// update poller. Valid only after Connect succeeds.
func (c *TelegramChannel) BotAPI() *tgbotapi.BotAPI {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bot
}

func (c *TelegramChannel) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.logger.Info("telegram channel disconnected")
	return nil
}

func (c *TelegramChannel) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Send posts msg to the channel, splitting content exceeding Telegram's
// message length limit into multiple sequential messages; only the
// first carries the reply/thread association.
func (c *TelegramChannel) Send(ctx context.Context, msg OutgoingMessage) error {
	if msg.EditTarget != "" {
		return c.EditMessage(ctx, msg.ChannelID, msg.EditTarget, msg.Content)
	}

	for i, part := range chunk.Split(msg.Content, telegramMessageLimit, chunk.Paragraph) {
		params := tgbotapi.Params{
			"chat_id": msg.ChannelID,
			"text":    part,
		}
		if i == 0 {
			if msg.ReplyTo != "" {
				params["reply_to_message_id"] = msg.ReplyTo
			}
			if msg.ThreadID != "" {
				params["message_thread_id"] = msg.ThreadID
			}
		}
		if _, err := c.callAPI(ctx, "sendMessage", params); err != nil {
			return err
		}
	}
	return nil
}

func (c *TelegramChannel) SendTyping(ctx context.Context, channelID string) error {
	_, err := c.callAPI(ctx, "sendChatAction", tgbotapi.Params{
		"chat_id": channelID,
		"action":  "typing",
	})
	return err
}

func (c *TelegramChannel) EditMessage(ctx context.Context, channelID, messageID, newContent string) error {
	_, err := c.callAPI(ctx, "editMessageText", tgbotapi.Params{
		"chat_id":    channelID,
		"message_id": messageID,
		"text":       newContent,
	})
	return err
}

func (c *TelegramChannel) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	_, err := c.callAPI(ctx, "deleteMessage", tgbotapi.Params{
		"chat_id":    channelID,
		"message_id": messageID,
	})
	return err
}

func (c *TelegramChannel) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	reaction, err := json.Marshal([]map[string]string{{"type": "emoji", "emoji": emoji}})
	if err != nil {
		return fmt.Errorf("encode reaction: %w", err)
	}
	_, err = c.callAPI(ctx, "setMessageReaction", tgbotapi.Params{
		"chat_id":    channelID,
		"message_id": messageID,
		"reaction":   string(reaction),
	})
	return err
}

func (c *TelegramChannel) RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error {
	_, err := c.callAPI(ctx, "setMessageReaction", tgbotapi.Params{
		"chat_id":    channelID,
		"message_id": messageID,
		"reaction":   "[]",
	})
	return err
}

// SendStreamingStart sends the initial streaming message and returns its
// message id as a string, for later use with SendStreamingUpdate/End.
func (c *TelegramChannel) SendStreamingStart(ctx context.Context, channelID, initialText, replyTo, threadID string) (string, error) {
	params := tgbotapi.Params{
		"chat_id": channelID,
		"text":    initialText,
	}
	if replyTo != "" {
		params["reply_to_message_id"] = replyTo
	}
	if threadID != "" {
		params["message_thread_id"] = threadID
	}
	resp, err := c.callAPI(ctx, "sendMessage", params)
	if err != nil {
		return "", err
	}
	var sent struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(resp.Result, &sent); err != nil {
		return "", fmt.Errorf("decode sendMessage result: %w", err)
	}
	return strconv.FormatInt(sent.MessageID, 10), nil
}

// SendStreamingUpdate edits the streaming message, subject to the
// per-chat rate limiter; a throttled edit returns success without
// calling the API, consistent with the chunking/rate-limit contract.
func (c *TelegramChannel) SendStreamingUpdate(ctx context.Context, channelID, messageID, text string) error {
	if !c.limiter.Check(channelID) {
		return nil
	}
	return c.EditMessage(ctx, channelID, messageID, text)
}

// SendStreamingEnd bypasses the rate limiter so the final text always
// lands on the message.
func (c *TelegramChannel) SendStreamingEnd(ctx context.Context, channelID, messageID, finalText string) error {
	return c.EditMessage(ctx, channelID, messageID, finalText)
}

// callAPI issues a Bot API request through the retry policy: a
// recoverable failure (429, 5xx, or a transient network error) is
// retried up to policy.MaxRetries, honoring a server-advised
// retry_after and pushing the chat's rate-limit window forward on 429.
func (c *TelegramChannel) callAPI(ctx context.Context, endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	c.mu.RLock()
	bot := c.bot
	c.mu.RUnlock()
	if bot == nil {
		return nil, errors.New("telegram channel not connected")
	}

	var lastErr error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := bot.MakeRequest(endpoint, params)
		if err == nil {
			return resp, nil
		}

		status, body := classifyError(err)
		if !retry.IsRecoverable(status, body) {
			return nil, fmt.Errorf("telegram %s: %w", endpoint, err)
		}
		if status == 429 {
			if chatID, ok := params["chat_id"]; ok {
				c.limiter.Backoff(chatID)
			}
		}

		lastErr = err
		retryAfter, hasRetryAfter := retry.ParseRetryAfter(body)
		delay := retry.DelayForAttempt(c.policy, attempt, retryAfter, hasRetryAfter)
		c.logger.Warn("telegram API call failed, retrying", "endpoint", endpoint, "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("telegram %s: exhausted retries: %w", endpoint, lastErr)
}

// classifyError extracts an HTTP-ish status and a JSON body from a Bot
// API error so it can be fed to retry.IsRecoverable/ParseRetryAfter. A
// non-API error (network failure) reports status 0 and its message as
// the body, which the substring checks in retry.IsRecoverable still
// catch for common transient cases.
func classifyError(err error) (int, string) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		body := apiErr.Message
		if apiErr.ResponseParameters.RetryAfter != 0 {
			if encoded, marshalErr := json.Marshal(map[string]any{
				"description": apiErr.Message,
				"parameters":  map[string]int{"retry_after": apiErr.ResponseParameters.RetryAfter},
			}); marshalErr == nil {
				body = string(encoded)
			}
		}
		return apiErr.Code, body
	}
	return 0, err.Error()
}
