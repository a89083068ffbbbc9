package channels

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/forgebot/forgebot/pkg/bus"
	"github.com/forgebot/forgebot/pkg/config"
	"github.com/forgebot/forgebot/pkg/logger"
)

const telegramMaxMessageLength = 4096

// TelegramChannel bridges Telegram long polling and the message bus.
type TelegramChannel struct {
	bot       *telego.Bot
	config    config.TelegramConfig
	bus       *bus.MessageBus
	allowFrom map[string]struct{}
	running   atomic.Bool
}

func NewTelegramChannel(cfg config.TelegramConfig, messageBus *bus.MessageBus) (*TelegramChannel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	allowFrom := make(map[string]struct{}, len(cfg.AllowFrom))
	for _, id := range cfg.AllowFrom {
		allowFrom[strings.TrimSpace(id)] = struct{}{}
	}

	return &TelegramChannel{
		bot:       bot,
		config:    cfg,
		bus:       messageBus,
		allowFrom: allowFrom,
	}, nil
}

// IsAllowed reports whether the sender passes the allowlist. An empty
// allowlist admits everyone.
func (c *TelegramChannel) IsAllowed(userID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	_, ok := c.allowFrom[userID]
	return ok
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram bot (polling mode)...")

	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: 30,
	})
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	c.running.Store(true)
	logger.InfoCF("telegram", "Telegram bot connected", map[string]any{
		"username": c.bot.Username(),
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					logger.InfoC("telegram", "Updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(update)
				}
			}
		}
	}()

	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	logger.InfoC("telegram", "Stopping Telegram bot...")
	c.running.Store(false)
	return nil
}

func (c *TelegramChannel) handleMessage(update telego.Update) {
	message := update.Message
	if message == nil || message.From == nil || message.Text == "" {
		return
	}

	userID := strconv.FormatInt(message.From.ID, 10)
	if !c.IsAllowed(userID) {
		logger.DebugCF("telegram", "Message rejected by allowlist", map[string]any{
			"user_id":  userID,
			"username": message.From.Username,
		})
		return
	}

	chatID := strconv.FormatInt(message.Chat.ID, 10)

	// Typing indicator while the agent works. Best effort.
	_ = c.bot.SendChatAction(context.Background(), &telego.SendChatActionParams{
		ChatID: tu.ID(message.Chat.ID),
		Action: telego.ChatActionTyping,
	})

	c.bus.PublishInbound(bus.InboundMessage{
		Channel:  "telegram",
		SenderID: message.From.ID,
		ChatID:   chatID,
		Content:  message.Text,
		Scope:    "telegram:" + chatID,
	})
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.running.Load() {
		return fmt.Errorf("telegram bot not running")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	for _, chunk := range splitMessageContent(msg.Content, telegramMaxMessageLength) {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	}
	return nil
}

// splitMessageContent breaks text into chunks within maxLen runes,
// preferring newline boundaries.
func splitMessageContent(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(runes) > maxLen {
		cut := maxLen
		for i := maxLen; i > maxLen/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunk := strings.TrimSpace(string(runes[:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}
