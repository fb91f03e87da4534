// Package logger provides lightweight structured logging for lumapix.
// Output is plain key=value text by default; set LOG_FORMAT=json for
// machine-readable logs and LOG_LEVEL=debug to enable debug output.
package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// Field represents a structured logging field.
type Field struct {
	Key   string
	Value interface{}
}

// Info logs an informational message with optional structured fields.
func Info(msg string, fields ...Field) {
	emit("INFO", msg, fields...)
}

// Warn logs a warning message.
func Warn(msg string, fields ...Field) {
	emit("WARN", msg, fields...)
}

// Error logs an error message.
func Error(msg string, fields ...Field) {
	emit("ERROR", msg, fields...)
}

// Debug logs a debug message. Suppressed unless LOG_LEVEL=debug.
func Debug(msg string, fields ...Field) {
	if !strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		return
	}
	emit("DEBUG", msg, fields...)
}

func emit(level, msg string, fields ...Field) {
	if os.Getenv("LOG_FORMAT") == "json" {
		entry := map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"level":     level,
			"message":   msg,
		}
		for _, f := range fields {
			entry[f.Key] = f.Value
		}
		data, _ := json.Marshal(entry)
		log.Println(string(data))
		return
	}

	var b strings.Builder
	for _, f := range fields {
		b.WriteByte(' ')
		fmt.Fprintf(&b, "%s=%v", f.Key, f.Value)
	}
	log.Printf("%s: %s%s", level, msg, b.String())
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Float64 creates a float64 field.
func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a bool field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field rounded to millisecond precision.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.Round(time.Millisecond).String()}
}

// Err creates an error field. A nil error yields a nil value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}
