package telegram

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/amirbiron/Tfilin/internal/domain"
	"github.com/amirbiron/Tfilin/internal/store"
)

// Engine is the scheduling core's command surface, one entry point per user
// event. Implemented by scheduler.Scheduler.
type Engine interface {
	Acknowledge(ctx context.Context, userID int64) (domain.State, error)
	Snooze(ctx context.Context, userID int64, d time.Duration) (domain.State, error)
	Skip(ctx context.Context, userID int64) (domain.State, error)
}

// Pending state keys used in conversational flows.
const (
	pendingTime   = "await_time_text"
	pendingSnooze = "await_snooze_text"
)

// Defaults are applied to newly registered users; they come from validated
// application config.
type Defaults struct {
	TZ         string
	Locale     string
	FireHour   int
	FireMinute int
	SnoozePref time.Duration
}

// Router wires Telegram updates to handlers and holds minimal in-memory state.
type Router struct {
	bot      *tgbotapi.BotAPI
	log      *zap.Logger
	repo     store.Repo
	engine   Engine
	defaults Defaults
	state    map[int64]string // userID -> pending state
	mu       sync.RWMutex
}

// NewRouter creates a new Telegram router.
func NewRouter(bot *tgbotapi.BotAPI, log *zap.Logger, repo store.Repo, engine Engine, defaults Defaults) *Router {
	return &Router{
		bot:      bot,
		log:      log,
		repo:     repo,
		engine:   engine,
		defaults: defaults,
		state:    make(map[int64]string),
	}
}

// setPending sets a pending state for a user (non-persistent, in-memory).
func (r *Router) setPending(userID int64, s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[userID] = s
}

// getPending returns current pending state for a user.
func (r *Router) getPending(userID int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state[userID]
}

// clearPending clears a pending state for a user.
func (r *Router) clearPending(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state, userID)
}

// HandleUpdate routes a single update to appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	// Text messages
	if upd.Message != nil {
		msg := upd.Message
		userID := msg.Chat.ID
		text := strings.TrimSpace(msg.Text)

		switch {
		case strings.HasPrefix(text, "/start"):
			r.handleStart(ctx, userID)
		case strings.HasPrefix(text, "/status"):
			r.handleStatus(ctx, userID)
		case strings.HasPrefix(text, "/settings"):
			r.handleSettings(ctx, userID)
		case strings.HasPrefix(text, "/pause"):
			r.handlePause(ctx, userID)
		case strings.HasPrefix(text, "/resume"):
			r.handleResume(ctx, userID)
		case strings.HasPrefix(text, "/done"):
			r.handleDone(ctx, userID)
		case strings.HasPrefix(text, "/skip"):
			r.handleSkip(ctx, userID)
		default:
			// Free-form text used in "Custom" flows (time/snooze)
			r.handleFreeForm(ctx, userID, text)
		}
		return
	}

	// Callback queries (inline buttons)
	if upd.CallbackQuery != nil {
		cb := upd.CallbackQuery
		// Callbacks on inaccessible or expired messages carry no Message.
		if cb.Message == nil {
			return
		}
		data := cb.Data
		userID := cb.Message.Chat.ID
		_ = r.answerCallback(cb.ID, "")

		switch {
		case data == "done":
			r.handleDone(ctx, userID)
		case data == "skip":
			r.handleSkip(ctx, userID)
		case data == "snooze:custom", data == "snooze:other":
			r.askSnooze(ctx, userID)
		case strings.HasPrefix(data, "snooze:"):
			r.handleSnoozeCallback(ctx, userID, data)

		case data == "set_time":
			r.askTimePresets(ctx, userID)
		case data == "time:custom":
			r.sendText(userID, "שלח שעה בפורמט HH:MM, למשל 07:30")
			r.setPending(userID, pendingTime)
		case strings.HasPrefix(data, "time:"):
			r.handleTimeCallback(ctx, userID, data)

		case data == "set_sunset":
			r.askSunsetPresets(ctx, userID)
		case strings.HasPrefix(data, "sunset:"):
			r.handleSunsetCallback(ctx, userID, data)

		default:
			// Unknown callback, ignore.
		}
		return
	}
}
