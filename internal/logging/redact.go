package logging

import (
	"regexp"

	"github.com/sirupsen/logrus"
)

// botTokenPattern matches Telegram bot tokens (<bot id>:<secret>). Provider
// errors and request URLs can carry them.
var botTokenPattern = regexp.MustCompile(`\d{5,}:[A-Za-z0-9_-]{30,}`)

const redactedToken = "[redacted-bot-token]"

// RedactTokens replaces every bot token in s.
func RedactTokens(s string) string {
	return botTokenPattern.ReplaceAllString(s, redactedToken)
}

// redactHook scrubs bot tokens from the message and from string and error
// fields before an entry is formatted.
type redactHook struct{}

func (redactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (redactHook) Fire(entry *logrus.Entry) error {
	entry.Message = RedactTokens(entry.Message)

	for key, value := range entry.Data {
		switch v := value.(type) {
		case string:
			entry.Data[key] = RedactTokens(v)
		case error:
			if msg := v.Error(); botTokenPattern.MatchString(msg) {
				entry.Data[key] = RedactTokens(msg)
			}
		}
	}

	return nil
}
