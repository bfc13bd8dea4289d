package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a batch notification.
type TelegramMessage struct {
	Success    bool
	DryRun     bool
	Repository string
	StartTime  time.Time
	Duration   time.Duration

	Total     int
	Changed   int
	Unchanged int
	Failed    int

	// One entry per failed switch, "name: error".
	Failures []string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
