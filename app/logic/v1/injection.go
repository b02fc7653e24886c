package v1

import (
	"context"
)

const (
	LANGUAGE_KEY = "__ragstream.accept_language"
)

// InjectLanguage returns the client language set by the AcceptLanguage
// middleware.
func InjectLanguage(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(LANGUAGE_KEY).(string)
	return val, ok
}
