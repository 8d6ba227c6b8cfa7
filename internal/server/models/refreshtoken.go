package models

import "time"

// RefreshToken is the durable authorization-to-use record for a signed
// refresh token. (UserID, Token) form the composite unique key; the signed
// token itself carries no subject, so this record is the only binding
// between a refresh token and its owner.
type RefreshToken struct {
	UserID    string
	Token     string
	CreatedAt time.Time
}
