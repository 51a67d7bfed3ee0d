package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"voidmod.org/internal/obs"
	"voidmod.org/internal/stream"
)

const (
	wsWriteTimeout = 10 * time.Second
	sseKeepAlive   = 25 * time.Second
)

// connect admits a realtime viewer. The token travels in the query string because
// browsers cannot set headers on WebSocket or EventSource requests.
func (a *API) connect(ctx context.Context, w http.ResponseWriter, r *http.Request) (*stream.Conn, bool) {
	if a.deps.Hub == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return nil, false
	}
	conn, err := a.deps.Hub.Connect(ctx, r.URL.Query().Get("token"))
	if err != nil {
		respondError(w, r, err)
		return nil, false
	}
	return conn, true
}

// handleWebSocket pushes hub events as JSON text frames. Messages from the client
// are ignored.
func (a *API) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, ok := a.connect(ctx, w, r)
	if !ok {
		return
	}
	defer conn.Close()

	opts := &websocket.AcceptOptions{OriginPatterns: originHosts(a.origins)}
	if len(opts.OriginPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		obs.Logger().Warn("websocket accept failed", slog.Any("error", err))
		return
	}
	defer ws.CloseNow()

	ctx = ws.CloseRead(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.Events():
			if !ok {
				_ = ws.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(wctx, ws, ev)
			wcancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					obs.Logger().Debug("websocket write failed", slog.Any("error", err))
				}
				return
			}
		}
	}
}

// handleEvents is the Server-Sent Events variant of the realtime feed.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, ok := a.connect(ctx, w, r)
	if !ok {
		return
	}
	defer conn.Close()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": ping\n\n"))
		case ev, ok := <-conn.Events():
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: " + ev.Name + "\ndata: "))
			data := ev.Data
			if len(data) == 0 {
				data = json.RawMessage("null")
			}
			_, _ = w.Write(data)
			_, _ = w.Write([]byte("\n\n"))
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// originHosts turns configured CORS origins into the host patterns the websocket
// origin check matches against.
func originHosts(origins []string) []string {
	var hosts []string
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}
