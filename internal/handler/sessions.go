package handler

import (
	"net/http"

	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/service"
)

// SessionLister reports the sessions currently being served.
type SessionLister interface {
	Sessions() []service.SessionInfo
}

// SessionsHandler lists active detection sessions as JSON.
func SessionsHandler(lister SessionLister, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, map[string]interface{}{"sessions": lister.Sessions()})
	}
}
