package notifier

// Package notifier is the async delivery pipeline between the reminder
// engine and the chat platform: a bounded queue drained by a worker pool,
// paced by a token bucket so a burst of simultaneous fires does not trip
// platform flood limits, with bounded retry on send failure.
