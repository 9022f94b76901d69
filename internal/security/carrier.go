package security

import (
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf8"
)

var ErrMalformedCarrier = errors.New("malformed session carrier")

// EncodeCarrier packs the owner of a refresh token together with the token so
// the session can be located on refresh and logout. The username half only
// selects the record; the token half is what authenticates.
func EncodeCarrier(username, refreshToken string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(username)) + "." + refreshToken
}

// DecodeCarrier splits a carrier into the candidate username and refresh token.
func DecodeCarrier(carrier string) (string, string, error) {
	encodedUser, token, ok := strings.Cut(strings.TrimSpace(carrier), ".")
	if !ok || encodedUser == "" || token == "" {
		return "", "", ErrMalformedCarrier
	}

	raw, err := base64.RawURLEncoding.DecodeString(encodedUser)
	if err != nil || len(raw) == 0 || !utf8.Valid(raw) {
		return "", "", ErrMalformedCarrier
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(decoded) != RefreshTokenBytes {
		return "", "", ErrMalformedCarrier
	}

	return string(raw), token, nil
}
