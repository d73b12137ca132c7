// Package credential holds the cookie bundle sent with each punch and decides
// whether its bearer token is still usable.
package credential

import "maps"

// DefaultBearerName is the cookie carrying the bearer token upstream.
const DefaultBearerName = "__ModuleSessionCookie"

// Set maps a cookie name to its value. Exactly one entry, named by the
// evaluator's bearer name, is the bearer token; the rest are auxiliary
// session cookies.
type Set map[string]string

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	maps.Copy(out, s)
	return out
}

// Merge returns a copy of s with every non-bearer entry of fresh applied on
// top. The bearer entry of s is never replaced or removed.
func (s Set) Merge(fresh Set, bearerName string) Set {
	out := s.Clone()
	for name, value := range fresh {
		if name == bearerName {
			continue
		}
		out[name] = value
	}
	return out
}

// WithBearer returns a copy of s whose bearer entry is token. An empty token
// removes the entry.
func (s Set) WithBearer(bearerName, token string) Set {
	out := s.Clone()
	if token == "" {
		delete(out, bearerName)
		return out
	}
	out[bearerName] = token
	return out
}
