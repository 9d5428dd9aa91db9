package auth

import (
	"encoding/json"
	"strings"
	"time"
)

// Claims contains the decoded token payload. Raw keeps every claim so that
// nested metadata can be read by callers.
type Claims struct {
	Subject         string
	Issuer          string
	AuthorizedParty string
	ExpiresAt       time.Time
	Raw             map[string]any
}

// String returns the string value at the given path of nested objects, or
// "" when any step is missing or has the wrong type.
//
//	claims.String("public_metadata", "subscription_tier")
func (c *Claims) String(path ...string) string {
	if c == nil || len(path) == 0 {
		return ""
	}
	current := c.Raw
	for i, key := range path {
		val, ok := current[key]
		if !ok || val == nil {
			return ""
		}
		if i == len(path)-1 {
			s, _ := val.(string)
			return s
		}
		next, ok := val.(map[string]any)
		if !ok {
			return ""
		}
		current = next
	}
	return ""
}

func readString(claims map[string]any, key string) string {
	if s, ok := claims[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func readExpiry(raw any) time.Time {
	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return time.Unix(i, 0)
		}
	case int64:
		return time.Unix(v, 0)
	}
	return time.Time{}
}
