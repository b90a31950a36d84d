package config

// Default returns the built-in configuration: the six daily tasks, a 22:00
// summary and the motivational pulse between 09:00 and 20:59.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{PollTimeout: "10s"},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Path: "./routinebot.log"},
		},
		Storage:   StorageConfig{Driver: "sqlite", Path: "./routinebot.db", BusyTimeout: "5s"},
		Scheduler: SchedulerConfig{Tick: "20s"},
		Delivery:  DeliveryConfig{SendInterval: "100ms", RetryMax: 2, RetryDelay: "1s"},
		Summary:   SummaryConfig{At: "22:00", RateDays: 7, ReportDays: 7},
		Pulse: PulseConfig{
			Enabled:     true,
			MinInterval: "2h",
			MaxInterval: "6h",
			FromHour:    9,
			ToHour:      20,
			Messages: []string{
				"💪 Помни: каждый день - это новая возможность стать лучше!",
				"🌟 Маленькие шаги каждый день приводят к большим результатам!",
				"🎯 Ты можешь больше, чем думаешь. Продолжай идти к цели!",
				"🚀 Успех - это сумма небольших усилий, повторяемых изо дня в день!",
				"⭐ Будь терпелив с собой. Прогресс требует времени!",
			},
		},
		Router: RouterConfig{QueueSize: 256, Timeout: "30s"},
		Ops:    OpsConfig{Addr: "127.0.0.1:8089"},
		Tasks: []TaskConfig{
			{
				Key:      "morning_workout",
				Time:     "08:15",
				Prompt:   "🏃‍♂️ Время утренней тренировки! Готов к активному старту дня?",
				Label:    "Тренировка выполнена ✅",
				Keywords: []string{"тренировка", "тренировку", "зарядка"},
			},
			{
				Key:      "breakfast",
				Time:     "09:00",
				Prompt:   "🍳 Время завтрака! Не забудь правильно питаться.",
				Label:    "Завтрак готов ✅",
				Keywords: []string{"завтрак", "поел", "завтракал"},
			},
			{
				Key:      "lunch",
				Time:     "13:00",
				Prompt:   "🥗 Время обеда! Пора подкрепиться.",
				Label:    "Обед готов ✅",
				Keywords: []string{"обед", "пообедал"},
			},
			{
				Key:      "language_study",
				Time:     "16:00",
				Prompt:   "📚 Время изучения языка! Не пропускай занятия.",
				Label:    "Язык изучен ✅",
				Keywords: []string{"язык", "английский", "изучение"},
			},
			{
				Key:      "dinner",
				Time:     "19:00",
				Prompt:   "🍽️ Время ужина! Завершаем день вкусно.",
				Label:    "Ужин готов ✅",
				Keywords: []string{"ужин", "поужинал"},
			},
			{
				Key:      "daily_report",
				Time:     "21:00",
				Prompt:   "📊 Время подготовить отчёт о дне! Как дела?",
				Label:    "Отчёт готов ✅",
				Keywords: []string{"отчёт", "отчет", "доклад"},
			},
		},
	}
}
