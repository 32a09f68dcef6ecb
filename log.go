package dieselrhi

import (
	"os"

	"golang.org/x/exp/slog"
)

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func componentLogger(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = defaultLogger()
	}
	return l.With(slog.String("component", name))
}
