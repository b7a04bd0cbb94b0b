package logger

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// RunID records the reconciliation pass identifier under "run_id".
func RunID(id string) slog.Attr {
	return slog.String("run_id", id)
}

// SubscriptionID records a ledger subscription identifier under "subscription_id".
func SubscriptionID(id string) slog.Attr {
	return slog.String("subscription_id", id)
}

// CustomerID records a ledger customer identifier under "customer_id".
func CustomerID(id string) slog.Attr {
	return slog.String("customer_id", id)
}

// UserID records the user identifier under "user_id".
// If id is nil, it returns an empty Attr.
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

// Action records the repair action under "action".
func Action(name string) slog.Attr {
	return slog.String("action", name)
}

// Fields records a list of changed field names under "fields".
func Fields(names []string) slog.Attr {
	return slog.Any("fields", names)
}

// Reason records why a record was skipped under "reason".
func Reason(reason string) slog.Attr {
	return slog.String("reason", reason)
}

// Trigger records what started a pass ("schedule", "cli", "http") under "trigger".
func Trigger(source string) slog.Attr {
	return slog.String("trigger", source)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Count records a counter value under the given key.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}
