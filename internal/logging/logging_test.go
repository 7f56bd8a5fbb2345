package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"membify/internal/config"
)

func TestSetupUsesJSONFormatterInProduction(t *testing.T) {
	resetLogger()

	entry, err := Setup(config.Config{AppEnv: config.EnvProduction, LogLevel: "info"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jsonFormatter, ok := entry.Logger.Formatter.(*logrus.JSONFormatter)
	if !ok {
		t.Fatalf("expected JSON formatter, got %T", entry.Logger.Formatter)
	}

	if jsonFormatter.FieldMap[logrus.FieldKeyTime] != "ts" {
		t.Fatalf("expected ts field for timestamps, got %q", jsonFormatter.FieldMap[logrus.FieldKeyTime])
	}
	if entry.Data["service"] != serviceName {
		t.Fatalf("expected service field, got %v", entry.Data["service"])
	}
	if entry.Data["env"] != config.EnvProduction {
		t.Fatalf("expected env field to be %q, got %v", config.EnvProduction, entry.Data["env"])
	}
}

func TestSetupUsesTextFormatterInDevelopment(t *testing.T) {
	resetLogger()

	entry, err := Setup(config.Config{AppEnv: config.EnvDevelopment, LogLevel: "debug"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := entry.Logger.Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("expected Text formatter, got %T", entry.Logger.Formatter)
	}
	if entry.Data["env"] != config.EnvDevelopment {
		t.Fatalf("expected env field to be %q, got %v", config.EnvDevelopment, entry.Data["env"])
	}
}

func TestSetupRejectsInvalidLogLevel(t *testing.T) {
	resetLogger()

	if _, err := Setup(config.Config{AppEnv: config.EnvDevelopment, LogLevel: "loud"}); err == nil {
		t.Fatalf("expected error for invalid log level")
	}

	if baseLogger != nil {
		t.Fatalf("base logger should remain unset after failure")
	}
}

func TestLoggingHelpersIncludeContextAndLevels(t *testing.T) {
	resetLogger()

	logger, hook := test.NewNullLogger()
	logger.SetFormatter(formatterForEnv(config.EnvDevelopment))
	baseLogger = logger.WithFields(logrus.Fields{
		"service": serviceName,
		"env":     config.EnvDevelopment,
	})

	Info("hello world", logrus.Fields{"event": "startup"})
	Warn("careful now", nil)
	Error("boom", logrus.Fields{"error": "fail"})

	entries := hook.AllEntries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(entries))
	}

	if entries[0].Level != logrus.InfoLevel || entries[0].Data["event"] != "startup" {
		t.Fatalf("expected info level with startup event, got level=%s data=%v", entries[0].Level, entries[0].Data)
	}
	if entries[1].Level != logrus.WarnLevel {
		t.Fatalf("expected warn level, got %s", entries[1].Level)
	}
	if entries[2].Level != logrus.ErrorLevel || entries[2].Data["error"] != "fail" {
		t.Fatalf("expected error level with error field, got level=%s data=%v", entries[2].Level, entries[2].Data)
	}
}

func TestContextCarriesRequestEntry(t *testing.T) {
	resetLogger()

	logger, hook := test.NewNullLogger()
	fallback := logrus.NewEntry(logger).WithField("component", "verification")

	if got := FromContext(context.Background(), fallback); got != fallback {
		t.Fatalf("expected fallback entry without request logger")
	}
	if got := FromContext(context.Background(), nil); got != Logger() {
		t.Fatalf("expected base logger when no fallback is given")
	}

	request := logrus.NewEntry(logger).WithFields(logrus.Fields{"request_id": "req-1", "account_id": "acc-42"})
	ctx := IntoContext(context.Background(), request)

	FromContext(ctx, fallback).WithField("event", "verification_state").Info("state changed")

	last := hook.LastEntry()
	if last.Data["request_id"] != "req-1" || last.Data["account_id"] != "acc-42" || last.Data["event"] != "verification_state" {
		t.Fatalf("expected request fields, got %v", last.Data)
	}
	if _, ok := last.Data["component"]; ok {
		t.Fatalf("expected request entry to win over fallback, got %v", last.Data)
	}

	if IntoContext(ctx, nil) != ctx {
		t.Fatalf("expected nil entry to leave context unchanged")
	}
}

func TestRedactHookMasksBotTokens(t *testing.T) {
	token := "123456789:AAH" + strings.Repeat("x", 32)

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(formatterForEnv(config.EnvProduction))
	logger.AddHook(redactHook{})

	logger.WithFields(logrus.Fields{
		"url":   "https://api.telegram.org/bot" + token + "/getUpdates",
		"error": errors.New("post bot" + token + ": timeout"),
		"count": 3,
	}).Warn("call with " + token + " failed")

	out := buf.String()
	if strings.Contains(out, token) {
		t.Fatalf("expected token to be redacted, got %s", out)
	}
	if strings.Count(out, redactedToken) != 3 {
		t.Fatalf("expected three redactions, got %s", out)
	}
	if !strings.Contains(out, `"count":3`) {
		t.Fatalf("expected non-string fields untouched, got %s", out)
	}

	if got := RedactTokens("chat -1001234567890 code MBF_AB12CD34"); got != "chat -1001234567890 code MBF_AB12CD34" {
		t.Fatalf("expected plain text untouched, got %q", got)
	}
}
