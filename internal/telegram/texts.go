package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/amirbiron/Tfilin/internal/domain"
)

// UI texts in Hebrew
const (
	startText = "ברוך הבא! 🙏\n" +
		"בוט התזכורות לתפילין יעזור לך לא לשכוח.\n\n" +
		"אזכיר לך כל יום בשעה שתבחר, חוץ משבתות וחגים.\n" +
		"אפשר גם תזכורת נוספת לפני שקיעה."

	dailyReminderText = "⏰ תזכורת יומית – תפילין\n" +
		"הגיע הזמן להניח תפילין.\n" +
		"מה תרצה לעשות?"

	repeatReminderText = "🔔 נודניק – חזרתי להזכיר\n" +
		"הגיע הזמן להניח תפילין."

	sunsetReminderText = "🌇 תזכורת לפני שקיעה\n" +
		"תזכורת אחרונה להיום להנחת תפילין."

	doneText    = "איזה מלך! ✅🙏\nהמשך יום מעולה!"
	skippedText = "בסדר גמור, מדלגים על היום 🤝\nהרצף שלך נשאר ללא שינוי."

	statusFmt = "🧾 ההגדרות שלך:\n" +
		"• שעת תזכורת: %s\n" +
		"• אזור זמן: %s\n" +
		"• תזכורת שקיעה: %s\n" +
		"• מצב: %s\n\n" +
		"🔥 רצף נוכחי: %d ימים\n" +
		"🏆 רצף שיא: %d ימים"
)

// textForIntent maps a dispatch intent to its user-facing message.
func textForIntent(intent domain.Intent) string {
	switch intent {
	case domain.IntentRepeat:
		return repeatReminderText
	case domain.IntentSunset:
		return sunsetReminderText
	default:
		return dailyReminderText
	}
}

// keyboardForIntent builds the inline keyboard attached to a reminder.
func keyboardForIntent(intent domain.Intent) tgbotapi.InlineKeyboardMarkup {
	if intent == domain.IntentSunset {
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("הנחתי ✅", "done"),
			),
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("דחה 15 דק'", "snooze:15"),
				tgbotapi.NewInlineKeyboardButtonData("דחה 30 דק'", "snooze:30"),
			),
		)
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("הנחתי ✅", "done"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("נודניק 1ש'", "snooze:60"),
			tgbotapi.NewInlineKeyboardButtonData("נודניק 3ש'", "snooze:180"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("לבחור זמן...", "snooze:custom"),
			tgbotapi.NewInlineKeyboardButtonData("דלג היום", "skip"),
		),
	)
}

// mainMenuKeyboard builds a reply keyboard with a single toggle button:
// if active is true -> "/pause", else -> "/resume".
func mainMenuKeyboard(active bool) tgbotapi.ReplyKeyboardMarkup {
	toggle := "/pause"
	if !active {
		toggle = "/resume"
	}
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/status"),
			tgbotapi.NewKeyboardButton("/settings"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(toggle),
		),
	)
}

func settingsInlineKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🕗 שעת תזכורת", "set_time"),
			tgbotapi.NewInlineKeyboardButtonData("🌇 תזכורת שקיעה", "set_sunset"),
		),
	)
}

func timePresetsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("06:30", "time:06:30"),
			tgbotapi.NewInlineKeyboardButtonData("07:00", "time:07:00"),
			tgbotapi.NewInlineKeyboardButtonData("07:30", "time:07:30"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("08:00", "time:08:00"),
			tgbotapi.NewInlineKeyboardButtonData("09:00", "time:09:00"),
			tgbotapi.NewInlineKeyboardButtonData("✍️ אחר...", "time:custom"),
		),
	)
}

func sunsetPresetsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("30 דק' לפני", "sunset:30"),
			tgbotapi.NewInlineKeyboardButtonData("60 דק' לפני", "sunset:60"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("כבוי", "sunset:off"),
		),
	)
}

func snoozePresetsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("15 דק'", "snooze:15"),
			tgbotapi.NewInlineKeyboardButtonData("30 דק'", "snooze:30"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("45 דק'", "snooze:45"),
			tgbotapi.NewInlineKeyboardButtonData("90 דק'", "snooze:90"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✍️ אחר...", "snooze:other"),
		),
	)
}
