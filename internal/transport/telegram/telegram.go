// Package telegram adapts the Telegram Bot API to the transport boundary.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Telegram caps message bodies at 4096 UTF-16 code units; we chunk a bit
// below that to leave headroom for entities.
const maxMessageLen = 4000

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup

	// dropped counts inbound updates discarded because the consumer fell
	// behind the poll loop; flushed to the log periodically.
	dropped uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token: cfg.Token,
		Poller: &tele.LongPoller{
			Timeout: cfg.PollTimeout,
			// Reactions are opt-in; without this the API never delivers them.
			AllowedUpdates: []string{"message", "message_reaction"},
		},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// Username is the bot's @handle, known after NewBot's getMe.
func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				a.flushDropped(out)
				return
			case <-ticker.C:
				a.flushDropped(out)
			}
		}
	}()

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		msg := &transport.Message{
			Ref:        messageRef(m.Chat, m.ID),
			Room:       roomID(m.Chat),
			Sender:     senderHandle(m.Sender),
			SenderName: strings.TrimSpace(m.Sender.FirstName + " " + m.Sender.LastName),
			Text:       m.Text,
			IsGroup:    m.Chat != nil && m.Chat.Type != tele.ChatPrivate,
		}
		if rt := m.ReplyTo; rt != nil {
			ref := messageRef(rt.Chat, rt.ID)
			msg.ReplyTo = &ref
		}
		a.emit(out, transport.Update{Kind: transport.UpdateMessage, Message: msg})
		return nil
	})

	a.bot.Handle(tele.OnMessageReaction, func(c tele.Context) error {
		mr := c.Update().MessageReaction
		if mr == nil || mr.User == nil {
			return nil
		}
		added := len(mr.NewReaction) > len(mr.OldReaction)
		emoji := reactionDiff(mr.OldReaction, mr.NewReaction, added)
		a.emit(out, transport.Update{
			Kind: transport.UpdateReaction,
			Reaction: &transport.Reaction{
				Target: messageRef(mr.Chat, mr.MessageID),
				Room:   roomID(mr.Chat),
				Sender: senderHandle(mr.User),
				Emoji:  emoji,
				Added:  added,
			},
		})
		return nil
	})

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("telegram polling started")
		a.bot.Start()
	}()
	return nil
}

// Stop is best effort: a long poll still in flight must not hold up
// shutdown past a short grace window.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	go a.bot.Stop()

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("telegram polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed")
		return nil
	}
}

func (a *Adapter) SendText(ctx context.Context, room string, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	chatID, err := strconv.ParseInt(room, 10, 64)
	if err != nil {
		return transport.MessageRef{}, errors.New("invalid room id: " + room)
	}
	chat := &tele.Chat{ID: chatID}

	sendOpt := &tele.SendOptions{}
	if opt != nil {
		sendOpt.ParseMode = opt.ParseMode
		sendOpt.DisableWebPagePreview = opt.DisablePreview
		sendOpt.DisableNotification = opt.Silent
		if opt.ReplyTo != nil {
			if mid, err := strconv.Atoi(opt.ReplyTo.ID); err == nil {
				sendOpt.ReplyTo = &tele.Message{ID: mid, Chat: chat}
			}
		}
	}

	var first transport.MessageRef
	for i, chunk := range splitMessage(text, maxMessageLen) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = messageRef(chat, msg.ID)
			// Only the first chunk threads onto the reply target.
			sendOpt.ReplyTo = nil
		}
	}
	return first, nil
}

func (a *Adapter) emit(out chan<- transport.Update, up transport.Update) {
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.dropped, 1)
	}
}

func (a *Adapter) flushDropped(out chan<- transport.Update) {
	if n := atomic.SwapUint64(&a.dropped, 0); n > 0 {
		a.log.Warn("inbound updates dropped",
			logx.Int64("count", int64(n)), logx.Int("chan_cap", cap(out)))
	}
}

func roomID(chat *tele.Chat) string {
	if chat == nil {
		return ""
	}
	return strconv.FormatInt(chat.ID, 10)
}

func messageRef(chat *tele.Chat, id int) transport.MessageRef {
	return transport.MessageRef{Room: roomID(chat), ID: strconv.Itoa(id)}
}

// senderHandle prefers the @username; users without one are addressed by
// their numeric ID so mentions stay stable across display-name changes.
func senderHandle(u *tele.User) string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return "id" + strconv.FormatInt(u.ID, 10)
}

// reactionDiff picks the emoji present on one side only.
func reactionDiff(before, after []tele.Reaction, added bool) string {
	from, to := after, before
	if added {
		from, to = before, after
	}
	seen := make(map[string]struct{}, len(from))
	for _, r := range from {
		seen[r.Emoji] = struct{}{}
	}
	for _, r := range to {
		if _, ok := seen[r.Emoji]; !ok {
			return r.Emoji
		}
	}
	if len(to) > 0 {
		return to[len(to)-1].Emoji
	}
	return ""
}

// splitMessage chunks long text, preferring newline boundaries.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var parts []string
	rest := text
	for len(rest) > limit {
		cut := strings.LastIndexByte(rest[:limit], '\n')
		if cut < limit/2 {
			cut = limit
			// Never split inside a multi-byte rune.
			for cut > 0 && (rest[cut]&0xC0) == 0x80 {
				cut--
			}
		}
		parts = append(parts, strings.TrimRight(rest[:cut], "\n"))
		rest = strings.TrimLeft(rest[cut:], "\n")
	}
	if rest != "" {
		parts = append(parts, rest)
	}
	return parts
}
