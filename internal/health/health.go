package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is the slice of the archive store the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Signing string `json:"signing,omitempty"`
	Archive bool   `json:"archive,omitempty"`
}

// HTTPHandler returns an HTTP handler that reports the health status of the
// service. The archive ping gates readiness; a disabled signing mode is
// reported but does not fail the check.
func HTTPHandler(store Pinger, signingMode func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok", Archive: true}
		if signingMode != nil {
			st.Signing = signingMode()
			if st.Signing == "disabled" {
				st.Message = "signing disabled"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				st.OK = false
				st.Message = "archive ping failed"
				st.Archive = false
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
