package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/amirbiron/Tfilin/internal/domain"
	"github.com/amirbiron/Tfilin/internal/store"
)

// ensureUser makes sure a user row exists; if not, creates it with defaults.
func (r *Router) ensureUser(ctx context.Context, userID int64) (*domain.UserConfig, error) {
	u, err := r.repo.GetUser(ctx, userID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	u = &domain.UserConfig{
		UserID:     userID,
		Active:     true,
		TZ:         r.defaults.TZ,
		Locale:     r.defaults.Locale,
		FireHour:   r.defaults.FireHour,
		FireMinute: r.defaults.FireMinute,
		SnoozePref: r.defaults.SnoozePref,
		CreatedAt:  now,
	}
	if err := r.repo.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// --- Generic helpers ---

func (r *Router) sendText(userID int64, text string) {
	_, _ = r.bot.Send(tgbotapi.NewMessage(userID, text))
}

func (r *Router) answerCallback(id, text string) error {
	_, err := r.bot.Request(tgbotapi.NewCallback(id, text))
	return err
}

// --- Core commands ---

func (r *Router) handleStart(ctx context.Context, userID int64) {
	u, err := r.ensureUser(ctx, userID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.sendText(userID, "שגיאה באתחול הפרופיל. נסה שוב מאוחר יותר.")
		return
	}
	msg := tgbotapi.NewMessage(userID, startText)
	msg.ReplyMarkup = mainMenuKeyboard(u.Active)
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleStatus(ctx context.Context, userID int64) {
	u, err := r.ensureUser(ctx, userID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.sendText(userID, "שגיאה בקריאת ההגדרות.")
		return
	}
	streak, err := r.repo.GetStreak(ctx, userID)
	if err != nil {
		r.log.Error("get streak failed", zap.Error(err))
	}

	sunset := "כבויה"
	if u.SunsetLead > 0 {
		sunset = fmt.Sprintf("%d דק' לפני שקיעה", int(u.SunsetLead.Minutes()))
	}
	active := "✅ פעיל"
	if !u.Active {
		active = "⏸ מושהה"
	}

	body := fmt.Sprintf(statusFmt,
		domain.FormatClock(u.FireHour, u.FireMinute),
		u.TZ,
		sunset,
		active,
		streak.Current,
		streak.Longest,
	)
	msg := tgbotapi.NewMessage(userID, body)
	msg.ReplyMarkup = mainMenuKeyboard(u.Active)
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleSettings(ctx context.Context, userID int64) {
	if _, err := r.ensureUser(ctx, userID); err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.sendText(userID, "שגיאה בפתיחת ההגדרות.")
		return
	}
	msg := tgbotapi.NewMessage(userID, "מה תרצה להגדיר?")
	msg.ReplyMarkup = settingsInlineKeyboard()
	_, _ = r.bot.Send(msg)
}

func (r *Router) handlePause(ctx context.Context, userID int64) {
	if err := r.repo.SetActive(ctx, userID, false); err != nil {
		r.log.Error("SetActive failed", zap.Error(err))
		r.sendText(userID, "לא הצלחתי להשהות.")
		return
	}
	msg := tgbotapi.NewMessage(userID, "התזכורות הושהו. /resume כדי לחזור.")
	msg.ReplyMarkup = mainMenuKeyboard(false)
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleResume(ctx context.Context, userID int64) {
	if err := r.repo.SetActive(ctx, userID, true); err != nil {
		r.log.Error("SetActive failed", zap.Error(err))
		r.sendText(userID, "לא הצלחתי להפעיל מחדש.")
		return
	}
	msg := tgbotapi.NewMessage(userID, "התזכורות חזרו לפעול 🎉")
	msg.ReplyMarkup = mainMenuKeyboard(true)
	_, _ = r.bot.Send(msg)
}

// --- Reminder responses ---

func (r *Router) handleDone(ctx context.Context, userID int64) {
	state, err := r.engine.Acknowledge(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNoInstance):
		r.sendText(userID, "אין תזכורת פתוחה להיום.")
	case errors.Is(err, domain.ErrNotSent):
		r.sendText(userID, "התזכורת של היום עוד לא נשלחה. אחזור אליך בזמן 🙂")
	case err != nil:
		r.log.Error("acknowledge failed", zap.Int64("user", userID), zap.Error(err))
		r.sendText(userID, "משהו השתבש. נסה שוב.")
	case state == domain.StateAcknowledged:
		r.sendText(userID, doneText)
	default:
		r.sendText(userID, alreadyFinishedText(state))
	}
}

func (r *Router) handleSkip(ctx context.Context, userID int64) {
	state, err := r.engine.Skip(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNoInstance):
		r.sendText(userID, "אין תזכורת פתוחה להיום.")
	case err != nil:
		r.log.Error("skip failed", zap.Int64("user", userID), zap.Error(err))
		r.sendText(userID, "משהו השתבש. נסה שוב.")
	case state == domain.StateSkipped:
		r.sendText(userID, skippedText)
	default:
		r.sendText(userID, alreadyFinishedText(state))
	}
}

func (r *Router) askSnooze(ctx context.Context, userID int64) {
	msg := tgbotapi.NewMessage(userID, "בחר דחייה:")
	msg.ReplyMarkup = snoozePresetsKeyboard()
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleSnoozeCallback(ctx context.Context, userID int64, data string) {
	val := strings.TrimPrefix(data, "snooze:")
	if val == "other" {
		r.sendText(userID, "כתוב כמה זמן לדחות, למשל: 20m, 1h, 1h30m")
		r.setPending(userID, pendingSnooze)
		return
	}
	mins, err := strconv.Atoi(val)
	if err != nil || mins <= 0 {
		return
	}
	r.snooze(ctx, userID, time.Duration(mins)*time.Minute)
}

func (r *Router) snooze(ctx context.Context, userID int64, d time.Duration) {
	state, err := r.engine.Snooze(ctx, userID, d)
	switch {
	case errors.Is(err, domain.ErrNoInstance):
		r.sendText(userID, "אין תזכורת פתוחה להיום.")
	case errors.Is(err, domain.ErrSnoozeLimit):
		r.sendText(userID, "הגעת למגבלת הדחיות להיום. אפשר /done או /skip.")
	case errors.Is(err, domain.ErrNotSent):
		r.sendText(userID, "התזכורת של היום עוד לא נשלחה.")
	case err != nil:
		r.log.Error("snooze failed", zap.Int64("user", userID), zap.Error(err))
		r.sendText(userID, "משהו השתבש. נסה שוב.")
	case state == domain.StateSnoozed:
		r.sendText(userID, fmt.Sprintf("סגור. אזכיר עוד %d דקות ⏰", int(d.Minutes())))
	default:
		r.sendText(userID, alreadyFinishedText(state))
	}
}

// --- Settings flows ---

func (r *Router) askTimePresets(ctx context.Context, userID int64) {
	msg := tgbotapi.NewMessage(userID, "באיזו שעה להזכיר לך? (שעון מקומי)")
	msg.ReplyMarkup = timePresetsKeyboard()
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleTimeCallback(ctx context.Context, userID int64, data string) {
	val := strings.TrimPrefix(data, "time:")
	r.updateTime(ctx, userID, val)
}

func (r *Router) updateTime(ctx context.Context, userID int64, hhmm string) {
	hour, minute, err := domain.ParseClock(hhmm)
	if err != nil {
		r.sendText(userID, "פורמט לא תקין. דוגמה: 07:30")
		return
	}
	u, err := r.ensureUser(ctx, userID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.sendText(userID, "לא הצלחתי לשמור.")
		return
	}
	u.FireHour, u.FireMinute = hour, minute
	if err := r.repo.UpsertUser(ctx, u); err != nil {
		r.log.Error("UpsertUser failed", zap.Error(err))
		r.sendText(userID, "לא הצלחתי לשמור.")
		return
	}
	r.sendText(userID, "מעכשיו אזכיר לך כל יום ב-"+domain.FormatClock(hour, minute)+" 🕗")
}

func (r *Router) askSunsetPresets(ctx context.Context, userID int64) {
	msg := tgbotapi.NewMessage(userID, "תזכורת נוספת לפני השקיעה?")
	msg.ReplyMarkup = sunsetPresetsKeyboard()
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleSunsetCallback(ctx context.Context, userID int64, data string) {
	val := strings.TrimPrefix(data, "sunset:")

	var lead time.Duration
	if val != "off" {
		mins, err := strconv.Atoi(val)
		if err != nil || mins <= 0 {
			return
		}
		lead = time.Duration(mins) * time.Minute
	}

	u, err := r.ensureUser(ctx, userID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.sendText(userID, "לא הצלחתי לשמור.")
		return
	}
	u.SunsetLead = lead
	if err := r.repo.UpsertUser(ctx, u); err != nil {
		r.log.Error("UpsertUser failed", zap.Error(err))
		r.sendText(userID, "לא הצלחתי לשמור.")
		return
	}
	if lead == 0 {
		r.sendText(userID, "תזכורת השקיעה כובתה.")
	} else {
		r.sendText(userID, fmt.Sprintf("מעולה! אזכיר גם %d דק' לפני השקיעה 🌇", int(lead.Minutes())))
	}
}

// --- Free-form dispatcher (for all "Custom" inputs) ---

func (r *Router) handleFreeForm(ctx context.Context, userID int64, text string) {
	switch r.getPending(userID) {
	case pendingTime:
		r.clearPending(userID)
		r.updateTime(ctx, userID, text)

	case pendingSnooze:
		r.clearPending(userID)
		d, err := domain.ParseDurationHuman(text)
		if err != nil {
			r.sendText(userID, "לא הבנתי. דוגמאות: 20m, 1h, 1h30m")
			return
		}
		r.snooze(ctx, userID, d)

	default:
		// Not in a flow; ignore chatter.
	}
}

// alreadyFinishedText names the terminal state the day already reached.
func alreadyFinishedText(state domain.State) string {
	switch state {
	case domain.StateAcknowledged:
		return "כבר סימנת שהנחת היום ✅"
	case domain.StateSkipped:
		return "כבר דילגת על היום."
	case domain.StateMissed:
		return "התזכורת של היום כבר נסגרה. נתראה מחר 🙂"
	default:
		return "הפעולה לא רלוונטית כרגע."
	}
}
