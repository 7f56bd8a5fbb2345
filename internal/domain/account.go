package domain

import (
	"strings"
	"time"
)

// Account represents a Membify platform account that owns communities.
type Account struct {
	AccountID               string    `bson:"account_id" json:"account_id"`
	VerificationCode        *string   `bson:"verification_code" json:"verification_code"`
	InitialVerificationCode *string   `bson:"initial_verification_code" json:"initial_verification_code"`
	VerificationAttempts    int       `bson:"verification_attempts" json:"verification_attempts"`
	CustomBotToken          *string   `bson:"custom_bot_token,omitempty" json:"-"`
	UseCustomBot            bool      `bson:"use_custom_bot" json:"use_custom_bot"`
	CreatedAt               time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt               time.Time `bson:"updated_at" json:"updated_at"`
}

// OutstandingCode returns the current verification code or an empty string.
func (a Account) OutstandingCode() string {
	if a.VerificationCode == nil {
		return ""
	}
	return strings.TrimSpace(*a.VerificationCode)
}

// BotToken picks the bot credential used for this account: the custom token
// when the account opted in and stored one, otherwise the platform default.
func (a Account) BotToken(defaultToken string) string {
	if a.UseCustomBot && a.CustomBotToken != nil && strings.TrimSpace(*a.CustomBotToken) != "" {
		return strings.TrimSpace(*a.CustomBotToken)
	}
	return defaultToken
}

// UsesCustomBot reports whether BotToken resolves to the account's own bot.
func (a Account) UsesCustomBot() bool {
	return a.UseCustomBot && a.CustomBotToken != nil && strings.TrimSpace(*a.CustomBotToken) != ""
}
