package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Structured field keys shared across the application.
const (
	FieldProvider  = "ai_provider"
	FieldModel     = "ai_model"
	FieldOperation = "ai_operation"

	FieldSession  = "session_id"
	FieldQuestion = "question_index"
)

type StringField struct {
	Key   string
	Value string
}

// StringFields converts key/value pairs into zap fields. Keys and values are
// trimmed; pairs with an empty key or value are skipped.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		value := strings.TrimSpace(field.Value)
		if key == "" || value == "" {
			continue
		}
		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields attaches fields to logger. A nil logger becomes a no-op logger.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// ProviderFields describes the AI backend answering a request.
func ProviderFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: strings.ToLower(provider)},
		StringField{Key: FieldModel, Value: model},
	)
}

func WithProvider(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, ProviderFields(provider, model)...)
}

// Operation names the provider call in progress.
func Operation(name string) zap.Field {
	return zap.String(FieldOperation, name)
}

// SessionFields describes an interview session and, when index is not
// negative, the question being worked on.
func SessionFields(sessionID string, index int) []zap.Field {
	fields := StringFields(StringField{Key: FieldSession, Value: sessionID})
	if index >= 0 {
		fields = append(fields, zap.Int(FieldQuestion, index))
	}
	return fields
}

func WithSession(logger *zap.Logger, sessionID string) *zap.Logger {
	return WithFields(logger, SessionFields(sessionID, -1)...)
}
