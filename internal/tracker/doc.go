// Package tracker is the reminder scheduler and completion tracker.
//
// A single Loop polls the clock and dispatches daily triggers. Reminders
// fan out to every notifiable user that has not completed the task today;
// AcceptCompletion is the only path that records a completion. The summary
// engine aggregates a day's completions and the pulse sends a random
// motivational message inside an hour window.
package tracker
