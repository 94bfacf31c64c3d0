package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/market-sentinel/internal/pkg/ctxlog"
)

// ErrorMapping maps a domain error to an HTTP response.
//
// Match, when set, replaces the errors.Is check against Error. An empty
// Message uses err.Error(). Header entries are added to the response.
type ErrorMapping struct {
	Error   error
	Match   func(error) bool
	Status  int
	Message string
	Header  map[string]string
}

func (m ErrorMapping) matches(err error) bool {
	if m.Match != nil {
		return m.Match(err)
	}
	return errors.Is(err, m.Error)
}

// HandleError writes the response of the first matching mapping.
// Unmatched errors are logged and answered with 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if !m.matches(err) {
			continue
		}
		for k, v := range m.Header {
			w.Header().Set(k, v)
		}
		msg := m.Message
		if msg == "" {
			msg = err.Error()
		}
		Error(w, m.Status, msg)
		return
	}
	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
