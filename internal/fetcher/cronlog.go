package fetcher

import (
	"context"

	"marketsync/internal/logger"

	"github.com/robfig/cron/v3"
)

// cronLogger routes cron's internal logging through the service logger.
type cronLogger struct{}

var _ cron.Logger = cronLogger{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug(context.Background(), "cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.ErrorWithErr(context.Background(), "cron: "+msg, err, keysAndValues...)
}
