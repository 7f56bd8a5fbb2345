package telegram

import (
	"strings"

	"github.com/go-telegram/bot/models"
)

// Match is the chat a verification code was found in.
type Match struct {
	UpdateID  int64
	ChatID    int64
	ChatTitle string
	ChatType  string
	Text      string
}

// FindMatch returns the first update, in the given order, whose message text
// or caption contains code. The comparison is case-sensitive. Updates are not
// checked against the time the code was issued, so a code still present in
// older chat history matches too.
func FindMatch(updates []models.Update, code string) (Match, bool) {
	if code == "" {
		return Match{}, false
	}

	for i := range updates {
		meta := extractUpdateMeta(&updates[i])
		if meta.chatID == 0 || meta.text == "" {
			continue
		}
		if !strings.Contains(meta.text, code) {
			continue
		}

		return Match{
			UpdateID:  meta.updateID,
			ChatID:    meta.chatID,
			ChatTitle: meta.chatTitle,
			ChatType:  meta.chatType,
			Text:      meta.text,
		}, true
	}

	return Match{}, false
}
