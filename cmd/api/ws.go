package main

import (
	"net/http"

	"github.com/PaulBabatuyi/pairchat/internal/realtime"
)

// serveWS authenticates before upgrading; the socket then belongs to the
// token's identity for its whole life.
func (app *application) serveWS(w http.ResponseWriter, r *http.Request) {
	id, err := app.authenticate(r)
	if err != nil {
		app.writeError(w, r, err)
		return
	}

	conn, err := app.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		return
	}
	realtime.NewClient(conn, app.hub, app.svc, id, app.cfg.Socket, app.log).Run(r.Context())
}
