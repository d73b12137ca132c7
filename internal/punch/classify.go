package punch

import (
	"encoding/json"
	"net/http"
	"strings"
)

// authKeywords mark a JSON response body as an authentication failure.
var authKeywords = []string{
	"unauthorized",
	"expired",
	"invalid token",
	"authentication",
	"login required",
	"session",
	"access denied",
	"forbidden",
}

// response is what one POST produced.
type response struct {
	status int
	header http.Header
	body   []byte
}

// isAuthFailure reports whether the server signalled a credential problem.
func isAuthFailure(r *response) bool {
	if r.status == http.StatusUnauthorized {
		return true
	}

	if strings.HasPrefix(strings.ToLower(r.header.Get("Content-Type")), "application/json") && json.Valid(r.body) {
		text := strings.ToLower(string(r.body))
		for _, kw := range authKeywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
	}

	switch r.status {
	case http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		loc := strings.ToLower(r.header.Get("Location"))
		if strings.Contains(loc, "login") || strings.Contains(loc, "auth") {
			return true
		}
	}
	return false
}

// decodePayload returns the parsed JSON body, or the raw text when the body
// is not JSON.
func decodePayload(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}
