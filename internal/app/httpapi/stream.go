package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/dapp_registry/internal/engine/events"
	"github.com/R3E-Network/dapp_registry/internal/httputil"
)

const (
	streamBuffer    = 64
	streamWriteWait = 10 * time.Second
	streamPingEvery = 30 * time.Second
	maxBacklog      = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser origins are enforced by the CORS middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// stream serves GET /v1/events as a websocket of committed events. The
// optional type and application query parameters filter the stream; backlog
// replays up to that many recent events first and may repeat an event that
// is also delivered live. Slow clients miss events rather than stall the
// engine.
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	backlog, err := queryInt(r, "backlog", 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if backlog > maxBacklog {
		backlog = maxBacklog
	}
	filter := streamFilter(r.URL.Query().Get("type"), r.URL.Query().Get("application"))

	// Subscribe before the handshake completes so no event committed after
	// the client connects is missed.
	ch := make(chan events.Event, streamBuffer)
	cancel := h.events.SubscribeFiltered(filter, func(e events.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Recent is newest first; replay oldest first.
	if backlog > 0 {
		var replay []events.Event
		for _, e := range h.events.Recent(maxBacklog * 4) {
			if filter(e) {
				replay = append(replay, e)
			}
			if len(replay) == backlog {
				break
			}
		}
		for i := len(replay) - 1; i >= 0; i-- {
			if err := writeEvent(conn, replay[i]); err != nil {
				return
			}
		}
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()
	for {
		select {
		case e := <-ch:
			if err := writeEvent(conn, e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, e events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(e)
}

func streamFilter(eventType, app string) events.Filter {
	return func(e events.Event) bool {
		if eventType != "" && string(e.Type) != eventType {
			return false
		}
		if app != "" && e.Application != app {
			return false
		}
		return true
	}
}
