package ledger

import (
	"context"
	"fmt"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v74"
)

// stripeLogger routes stripe-go's leveled logging into slog.
type stripeLogger struct {
	log *slog.Logger
}

var _ stripe.LeveledLoggerInterface = stripeLogger{}

func (l stripeLogger) Debugf(format string, v ...any) { l.emit(slog.LevelDebug, format, v...) }
func (l stripeLogger) Infof(format string, v ...any)  { l.emit(slog.LevelDebug, format, v...) }
func (l stripeLogger) Warnf(format string, v ...any)  { l.emit(slog.LevelWarn, format, v...) }
func (l stripeLogger) Errorf(format string, v ...any) { l.emit(slog.LevelError, format, v...) }

func (l stripeLogger) emit(level slog.Level, format string, v ...any) {
	ctx := context.Background()
	if !l.log.Enabled(ctx, level) {
		return
	}
	l.log.Log(ctx, level, fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}
