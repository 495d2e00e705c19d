// Package httpcarrier is a thin HTTP transport for the VEN: it exposes
// the acceptance pipeline as a single POST endpoint and leaves
// everything about the wire protocol above the XML body itself
// (auth, retries, polling cadence) to whatever fronts it.
package httpcarrier

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/homersoft/oadr2-ven-go/internal/ven"
)

const maxBodyBytes = 4 << 20 // 4 MiB, generous for an oadrDistributeEvent payload

// Carrier serves oadrDistributeEvent broadcasts over HTTP and writes
// back the VEN's oadrCreatedEvent reply.
type Carrier struct {
	Supervisor *ven.Supervisor
	Log        *slog.Logger
}

// New constructs a Carrier. log may be nil, in which case slog.Default
// is used.
func New(sup *ven.Supervisor, log *slog.Logger) *Carrier {
	if log == nil {
		log = slog.Default()
	}
	return &Carrier{Supervisor: sup, Log: log}
}

// Handler returns the http.Handler to mount at the VEN's broadcast
// path (e.g. "/oadr2/eiEvent").
func (c *Carrier) Handler() http.Handler {
	return http.HandlerFunc(c.handleDistributeEvent)
}

func (c *Carrier) handleDistributeEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		c.Log.Error("httpcarrier: failed to read request body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	reply, err := c.Supervisor.HandleBroadcast(body)
	if err != nil {
		c.Log.Error("httpcarrier: handle broadcast failed", "error", err)
		http.Error(w, "failed to handle broadcast", http.StatusBadRequest)
		return
	}

	if reply == nil {
		// No event in the broadcast required a response; nothing to send back.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(reply); err != nil {
		c.Log.Error("httpcarrier: failed to write reply", "error", err)
	}
}
