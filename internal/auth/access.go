package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessExpiry reads the exp claim of a Bluesky access JWT without
// verifying it. The signature belongs to the PDS; only the expiry is used,
// to refresh ahead of a 401.
func AccessExpiry(token string) (time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, ErrInvalidToken
	}
	return exp.Time, nil
}

// ExpiresWithin reports whether token expires within d of now. Tokens that
// cannot be read are treated as expiring.
func ExpiresWithin(token string, d time.Duration, now time.Time) bool {
	exp, err := AccessExpiry(token)
	if err != nil {
		return true
	}
	return !now.Add(d).Before(exp)
}
