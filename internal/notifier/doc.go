// Package notifier delivers bot-initiated messages: reminders and schedule
// update broadcasts.
//
// All sends share one token-bucket limiter so bursts of reminders firing at
// the same minute stay under Telegram's flood limits. Deliver is synchronous
// and never retries; Notify queues work for a small worker pool and drops
// duplicates within a configurable window.
package notifier
