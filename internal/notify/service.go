package notify

import (
	"context"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/pvzzle/yieldmint/internal/journal"
	"github.com/pvzzle/yieldmint/internal/settlement"
)

const DefaultBuffer = 256

// Sender is the part of *tgbot.Bot the service needs.
type Sender interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error)
}

// Engine exposes the coordinator state the bot reports on.
type Engine interface {
	Stats() settlement.Stats
	History(ctx context.Context, account string, limit int) ([]journal.Attempt, error)
}

type Service struct {
	sender   Sender
	chatID   int64
	engine   Engine
	notifyCh chan Notification
	log      *logrus.Entry
}

func NewService(sender Sender, chatID int64, engine Engine, buffer int, log *logrus.Entry) *Service {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		sender:   sender,
		chatID:   chatID,
		engine:   engine,
		notifyCh: make(chan Notification, buffer),
		log:      log,
	}
}

func (s *Service) RegisterHandlers(b *tgbot.Bot) {
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/status", tgbot.MatchTypeExact, s.onStatus)
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/history", tgbot.MatchTypePrefix, s.onHistory)
}

// Publish enqueues text for the ops chat. It never blocks; when the buffer
// is full the message is dropped.
func (s *Service) Publish(text string) bool {
	select {
	case s.notifyCh <- Notification{ChatID: s.chatID, Text: text}:
		return true
	default:
		s.log.Warn("notify buffer full, dropping message")
		return false
	}
}

// OnSettlement announces every settlement attempt.
func (s *Service) OnSettlement(ev settlement.Event) {
	s.Publish(FormatOutcome(ev.Account, ev.Outcome))
}

func (s *Service) StartNotifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.notifyCh:
			_, err := s.sender.SendMessage(ctx, &tgbot.SendMessageParams{
				ChatID: n.ChatID,
				Text:   n.Text,
			})
			if err != nil {
				s.log.WithError(err).Error("send notify")
			}
		}
	}
}

func (s *Service) onStatus(ctx context.Context, _ *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil || upd.Message.Chat.ID != s.chatID {
		return
	}
	s.reply(ctx, upd.Message.Chat.ID, FormatStats(s.engine.Stats()))
}

func (s *Service) onHistory(ctx context.Context, _ *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil || upd.Message.Chat.ID != s.chatID {
		return
	}
	s.reply(ctx, upd.Message.Chat.ID, s.historyText(ctx, upd.Message.Text))
}

func (s *Service) historyText(ctx context.Context, text string) string {
	args := strings.Fields(text)
	if len(args) < 2 {
		return "Usage: /history <wallet address>"
	}
	account := args[1]

	items, err := s.engine.History(ctx, account, journal.DefaultListLimit)
	if err != nil {
		s.log.WithError(err).WithField("account", account).Error("read history")
		return "Could not read settlement history."
	}
	return FormatAttempts(strings.ToLower(account), items)
}

func (s *Service) reply(ctx context.Context, chatID int64, text string) {
	if _, err := s.sender.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		s.log.WithError(err).Error("send reply")
	}
}
