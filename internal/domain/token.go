package domain

import "time"

// TokenType distinguishes access from refresh tokens.
type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	ExpiresIn        time.Duration
}

// Session is an authenticated login or refresh outcome.
type Session struct {
	User   *User
	Tokens TokenPair
	Roles  []string
}
