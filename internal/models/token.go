package models

import (
	"time"
)

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by the session manager on signup, login and refresh
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
