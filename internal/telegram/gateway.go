package telegram

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/amirbiron/Tfilin/internal/domain"
)

// Gateway delivers reminder dispatches over the Telegram Bot API. It
// implements scheduler.Gateway.
//
// Telegram has no server-side idempotency, so the gateway keeps a bounded
// in-process record of dispatch tokens. A token is recorded before the API
// call: when a send times out after the API already accepted the message,
// the retried dispatch carries the same token and is dropped here instead
// of reaching the user twice. A definite failure (the API answered with an
// error, or the connection never went through) forgets the token so the
// retry does reach the user.
type Gateway struct {
	bot *tgbotapi.BotAPI
	log *zap.Logger

	mu        sync.Mutex
	delivered map[string]time.Time
}

// NewGateway wraps the bot API for outbound reminder delivery.
func NewGateway(bot *tgbotapi.BotAPI, log *zap.Logger) *Gateway {
	return &Gateway{
		bot:       bot,
		log:       log,
		delivered: make(map[string]time.Time),
	}
}

// Send delivers the reminder named by intent to userID, honoring ctx's
// deadline. A repeated token is a no-op success. Blocked recipients surface
// as domain.ErrRecipientBlocked.
func (g *Gateway) Send(ctx context.Context, userID int64, intent domain.Intent, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.seen(token) {
		g.log.Debug("duplicate dispatch suppressed",
			zap.Int64("user", userID), zap.String("token", token))
		return nil
	}

	msg := tgbotapi.NewMessage(userID, textForIntent(intent))
	msg.ReplyMarkup = keyboardForIntent(intent)

	g.record(token)

	errCh := make(chan error, 1)
	go func() {
		_, err := g.bot.Send(msg)
		errCh <- err
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		// The HTTP call keeps running until the client's own cap; the
		// dispatch loop does not wait for it. The token stays recorded
		// since the message may still have gone out.
		return ctx.Err()
	}

	switch {
	case err == nil:
		return nil
	case isBlockedErr(err):
		return domain.ErrRecipientBlocked
	case !mayHaveDelivered(err):
		g.forget(token)
		return err
	default:
		return err
	}
}

func (g *Gateway) seen(token string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.delivered[token]
	return ok
}

func (g *Gateway) record(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delivered[token] = time.Now()

	// Tokens are only ever retried within a day; drop older entries.
	if len(g.delivered) > 4096 {
		cutoff := time.Now().Add(-24 * time.Hour)
		for t, at := range g.delivered {
			if at.Before(cutoff) {
				delete(g.delivered, t)
			}
		}
	}
}

func (g *Gateway) forget(token string) {
	g.mu.Lock()
	delete(g.delivered, token)
	g.mu.Unlock()
}

// mayHaveDelivered reports whether the failed call could still have been
// accepted by the API: timeouts cut off the response, not necessarily the
// request. Such tokens stay recorded so a retry cannot double-deliver.
func mayHaveDelivered(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isBlockedErr recognizes the Bot API error for a recipient that blocked
// the bot or deactivated their account.
func isBlockedErr(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "blocked by the user") ||
		strings.Contains(s, "user is deactivated") ||
		strings.Contains(s, "chat not found")
}
