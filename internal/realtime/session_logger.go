package realtime

import (
	"studysphere/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionLogger provides structured logging for realtime session events
type SessionLogger struct {
	logger *zap.Logger
}

func NewSessionLogger(l *logger.Logger) *SessionLogger {
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	return &SessionLogger{
		logger: l.Logger.With(zap.String("component", "realtime")),
	}
}

func (l *SessionLogger) fields(event string, userID uuid.UUID, sessionID string, extra []zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("event", event),
		zap.String("user_id", userID.String()),
		zap.String("session_id", sessionID),
	}, extra...)
}

func (l *SessionLogger) Info(event string, userID uuid.UUID, sessionID string, fields ...zap.Field) {
	l.logger.Info("realtime_event", l.fields(event, userID, sessionID, fields)...)
}

func (l *SessionLogger) Warn(event string, userID uuid.UUID, sessionID string, fields ...zap.Field) {
	l.logger.Warn("realtime_warning", l.fields(event, userID, sessionID, fields)...)
}

func (l *SessionLogger) Error(event string, userID uuid.UUID, sessionID string, err error, fields ...zap.Field) {
	l.logger.Error("realtime_error", l.fields(event, userID, sessionID, append(fields, zap.Error(err)))...)
}
