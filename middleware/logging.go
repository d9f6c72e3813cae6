package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	resilience "github.com/snel-bot/resilience"
)

// LoggingMiddleware creates middleware that logs every call with its
// duration and outcome.
func LoggingMiddleware(logger *zap.Logger) resilience.Middleware {
	return func(ctx context.Context, info *resilience.CallInfo, op resilience.Operation) (interface{}, error) {
		start := time.Now()

		logger.Debug("call started",
			zap.String("service", info.Service),
			zap.String("method", info.Method))

		resp, err := op(ctx)
		duration := time.Since(start)

		if err != nil {
			logger.Warn("call failed",
				zap.String("service", info.Service),
				zap.String("method", info.Method),
				zap.Duration("duration", duration),
				zap.Error(err))
			return nil, err
		}

		logger.Debug("call completed",
			zap.String("service", info.Service),
			zap.String("method", info.Method),
			zap.Duration("duration", duration))

		return resp, nil
	}
}
