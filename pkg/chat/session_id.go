package chat

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ResolveSessionID picks the session id from a page query string. The
// sessionId parameter wins over the legacy chatId one; anything that is
// not a UUID is replaced by a fresh random id.
func ResolveSessionID(rawQuery string) string {
	values, err := url.ParseQuery(strings.TrimPrefix(rawQuery, "?"))
	if err == nil {
		for _, key := range []string{"sessionId", "chatId"} {
			if id, ok := ValidSessionID(values.Get(key)); ok {
				return id
			}
		}
	}
	return uuid.NewString()
}

// ValidSessionID normalizes id when it is a UUID
func ValidSessionID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}
