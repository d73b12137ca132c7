package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoBearer is returned when a set has no bearer token entry.
	ErrNoBearer = errors.New("no bearer token in credential set")
	// ErrMalformedToken is returned when a bearer token cannot be decoded.
	ErrMalformedToken = errors.New("malformed bearer token")
)

// Claims are the timing claims read from an unverified bearer token.
type Claims struct {
	IssuedAt  *time.Time
	ExpiresAt *time.Time
	Raw       jwt.MapClaims
}

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// DecodeClaims decodes the middle segment of a three-segment token. The
// signature is not verified.
func DecodeClaims(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("%w: %d segments", ErrMalformedToken, len(parts))
	}

	payload, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	raw := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	var claims Claims
	claims.Raw = raw

	exp, err := raw.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("%w: exp: %v", ErrMalformedToken, err)
	}
	if exp != nil {
		t := exp.Time
		claims.ExpiresAt = &t
	}

	// A bad iat does not make the token unusable.
	if iat, err := raw.GetIssuedAt(); err == nil && iat != nil {
		t := iat.Time
		claims.IssuedAt = &t
	}
	return claims, nil
}

// TokenExpired reports whether token is expired at now. Undecodable tokens
// and tokens without an exp claim count as expired.
func TokenExpired(token string, now time.Time) bool {
	claims, err := DecodeClaims(token)
	if err != nil || claims.ExpiresAt == nil {
		return true
	}
	return !now.Before(*claims.ExpiresAt)
}
