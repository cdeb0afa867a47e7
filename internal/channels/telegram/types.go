// Package telegram adapts the Telegram Bot API to the gateway's abstract
// channel vocabulary: connect, send, edit, delete, react, and the
// streaming start/update/end trio used for progressive message editing.
package telegram

import "context"

// OutgoingMessage is a message to publish through a Channel.
type OutgoingMessage struct {
	ChannelID  string
	Content    string
	ReplyTo    string
	ThreadID   string
	EditTarget string
}

// IncomingMessage is a normalized inbound message handed to a channel's
// message callback after dedup and mention gating.
type IncomingMessage struct {
	ChannelID    string
	MessageID    string
	UserID       string
	Username     string
	Content      string
	ChatType     string
	IsReplyToBot bool
}

// Channel is the abstract vocabulary every chat platform adapter
// implements. Methods take channel-agnostic string IDs so callers never
// need platform-specific types.
type Channel interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, msg OutgoingMessage) error
	SendTyping(ctx context.Context, channelID string) error
	EditMessage(ctx context.Context, channelID, messageID, newContent string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error
	SendStreamingStart(ctx context.Context, channelID, initialText, replyTo, threadID string) (string, error)
	SendStreamingUpdate(ctx context.Context, channelID, messageID, text string) error
	SendStreamingEnd(ctx context.Context, channelID, messageID, finalText string) error
}

// BotCommand is a single entry in Telegram's command menu.
type BotCommand struct {
	Command     string
	Description string
}
