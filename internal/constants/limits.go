package constants

import "time"

const (
	// IDRandomBytes is the amount of entropy behind every generated record id.
	IDRandomBytes = 12

	ResetTokenBytes = 32

	DefaultTokenTTL      = time.Hour
	DefaultResetTokenTTL = 15 * time.Minute
	DefaultSessionTTL    = time.Hour

	DefaultMinPasswordLength = 6
	MaxNameLength            = 255

	AuthCookieName    = "token"
	SessionCookieName = "sid"
)
