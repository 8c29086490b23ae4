package domain

import "time"

// Clock returns the current time. Services take one so tests can pin time.
type Clock func() time.Time

// SystemClock returns time.Now in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// RequestContext is the caller identity taken from a verified token.
type RequestContext struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}
