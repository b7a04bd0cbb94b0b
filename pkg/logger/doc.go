// Package logger provides a context-aware wrapper around Go's slog package
// adding functional options for configuration, helper attribute constructors,
// and transparent injection of values stored in context.Context.
//
// Every billsync component logs through a *slog.Logger created by New. The
// reconciliation audit trail (orphan canceled, drift corrected, record
// created, record skipped) is emitted with the attribute helpers in attr.go so
// that keys stay consistent: run_id, subscription_id, customer_id, user_id,
// action, fields, reason.
//
// # Usage
//
//	log := logger.New(
//	    logger.WithEnvironment("production", "billsync"),
//	    logger.WithRunIDFromContext(),
//	)
//	logger.SetAsDefault(log)
//
//	ctx := logger.ContextWithRunID(context.Background(), runID)
//	log.InfoContext(ctx, "drift corrected",
//	    logger.SubscriptionID("sub_1"),
//	    logger.Fields([]string{"status"}),
//	)
//
// # Configuration
//
//   - WithEnvironment: text/debug for development, json/info for staging and production.
//   - WithFormat / WithTextFormatter / WithJSONFormatter: override output format.
//   - WithLevel / WithLevelName: set the minimum level.
//   - WithAttr: attach static attributes.
//   - WithContextExtractors / WithContextValue / WithRunIDFromContext: inject attributes from context.
//
// Error returns an empty attribute for a nil error, so
//
//	log.Info("pass finished", logger.Error(err))
//
// needs no nil check.
package logger
