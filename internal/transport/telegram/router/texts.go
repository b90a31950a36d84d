package router

// Texts are the user-facing strings of the bot. Templates take fmt verbs.
type Texts struct {
	Start   string
	Unknown string
	Busy    string
	Error   string

	StatusHeader   string
	StatusRate     string // %.1f
	ReportHeader   string
	ReportEmpty    string // %d days
	ReportRate     string // %.1f
	ScheduleHeader string
	Today          string
	Yesterday      string

	TaskCompleted        string
	TaskAlreadyCompleted string
	TaskUnknown          string
	KeywordAccepted      string // %s task title
	KeywordAlready       string // %s task title

	Cheers   []string
	Keyboard Keyboard
}

// Keyboard holds the reply keyboard button texts.
type Keyboard struct {
	Status   string
	Report   string
	Schedule string
	Help     string
}

func (k Keyboard) rows() [][]string {
	return [][]string{{k.Status, k.Report}, {k.Schedule, k.Help}}
}

func DefaultTexts() Texts {
	return Texts{
		Start: "🤖 Привет! Я твой личный помощник по распорядку дня.\n\n" +
			"📋 Доступные команды:\n" +
			"• /status - текущий статус задач\n" +
			"• /report - отчёт за неделю\n" +
			"• /schedule - показать расписание\n\n" +
			"Я буду напоминать тебе о важных делах и следить за их выполнением! 💪",
		Unknown: "🤔 Не понимаю. Используй команды или отвечай на мои напоминания.",
		Busy:    "⏳ Бот занят, попробуй чуть позже.",
		Error:   "Произошла ошибка. Попробуйте позже.",

		StatusHeader:   "📊 Статус задач на сегодня:",
		StatusRate:     "📈 Выполнение за неделю: %.1f%%",
		ReportHeader:   "📋 Отчёт:",
		ReportEmpty:    "📅 За последние %d дней данных нет.",
		ReportRate:     "📊 Общая эффективность: %.1f%%",
		ScheduleHeader: "🕐 Расписание задач:",
		Today:          "сегодня",
		Yesterday:      "вчера",

		TaskCompleted:        "✅ Отлично! Задача выполнена.",
		TaskAlreadyCompleted: "ℹ️ Эта задача уже выполнена сегодня.",
		TaskUnknown:          "Неизвестная задача.",
		KeywordAccepted:      "✅ Отлично! %s отмечено как выполненное!",
		KeywordAlready:       "ℹ️ %s уже выполнено сегодня.",

		Cheers: []string{
			"🎉 Отлично! Так держать!",
			"💪 Ты молодец! Продолжай в том же духе!",
			"⭐ Супер! Еще один шаг к цели!",
			"🚀 Великолепно! Ты на правильном пути!",
			"🌟 Браво! Каждое выполненное дело приближает к успеху!",
		},
		Keyboard: Keyboard{
			Status:   "📊 Статус",
			Report:   "📋 Отчёт",
			Schedule: "🕐 Расписание",
			Help:     "ℹ️ Помощь",
		},
	}
}

// DefaultDoneWords mark a free-text message as a completion report.
func DefaultDoneWords() []string {
	return []string{"сделал", "выполнил", "готов", "сделана", "выполнена"}
}
