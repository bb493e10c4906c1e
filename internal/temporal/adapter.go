package temporal

import (
	"fmt"
	"reflect"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// zapLogger bridges the Temporal SDK logger interface onto a zap.Logger so
// worker and client output lands in the same structured stream as the rest
// of the orchestrator.
type zapLogger struct {
	base *zap.Logger
}

// NewZapAdapter wraps logger for use as a Temporal client/worker logger.
func NewZapAdapter(logger *zap.Logger) log.Logger {
	return &zapLogger{base: logger}
}

func (z *zapLogger) Debug(msg string, keyvals ...interface{}) {
	z.base.Debug(msg, toFields(keyvals)...)
}

func (z *zapLogger) Info(msg string, keyvals ...interface{}) {
	z.base.Info(msg, toFields(keyvals)...)
}

func (z *zapLogger) Warn(msg string, keyvals ...interface{}) {
	z.base.Warn(msg, toFields(keyvals)...)
}

func (z *zapLogger) Error(msg string, keyvals ...interface{}) {
	z.base.Error(msg, toFields(keyvals)...)
}

// With satisfies log.WithLogger so the SDK can attach workflow/activity context.
func (z *zapLogger) With(keyvals ...interface{}) log.Logger {
	return &zapLogger{base: z.base.With(toFields(keyvals)...)}
}

// toFields converts the SDK's flat key/value list into zap fields. Non-string
// keys and a dangling trailing value are dropped rather than panicking.
func toFields(keyvals []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, anyField(key, keyvals[i+1]))
	}
	return fields
}

// anyField is zap.Any hardened against values the encoder cannot serialize;
// the SDK occasionally logs callbacks and channels.
func anyField(key string, val interface{}) (field zap.Field) {
	defer func() {
		if r := recover(); r != nil {
			field = zap.String(key, fmt.Sprintf("<unserializable: %v>", r))
		}
	}()

	if val == nil {
		return zap.String(key, "<nil>")
	}
	switch reflect.ValueOf(val).Kind() {
	case reflect.Func:
		return zap.String(key, "<func>")
	case reflect.Chan:
		return zap.String(key, "<chan>")
	case reflect.UnsafePointer:
		return zap.String(key, "<unsafe.Pointer>")
	case reflect.Invalid:
		return zap.String(key, "<invalid>")
	default:
		return zap.Any(key, val)
	}
}
