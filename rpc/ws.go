package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"custodychain/core/events"
	"custodychain/crypto"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 256
	wsReplayPage   = 500
)

// eventFilter narrows the websocket stream. Zero values match everything.
type eventFilter struct {
	eventType string
	contract  [20]byte
	byAddr    bool
	from      uint64
	replay    bool
}

func (f eventFilter) match(p events.Published) bool {
	if f.eventType != "" && p.Event.Type != f.eventType {
		return false
	}
	if f.byAddr && p.Contract != f.contract {
		return false
	}
	return true
}

func parseEventFilter(r *http.Request) (eventFilter, error) {
	q := r.URL.Query()
	filter := eventFilter{eventType: strings.TrimSpace(q.Get("type"))}
	if raw := strings.TrimSpace(q.Get("contract")); raw != "" {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return filter, err
		}
		filter.contract = addr
		filter.byAddr = true
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		from, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, err
		}
		filter.from = from
		filter.replay = true
	}
	return filter, nil
}

// handleEventsWS streams published events. With ?from=N the journal is
// replayed from sequence N before switching to live delivery.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.fanout == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	filter, err := parseEventFilter(r)
	if err != nil {
		http.Error(w, "invalid stream filter: "+err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.WarnContext(r.Context(), "event stream failed",
				slog.String("request_id", requestIDFrom(r.Context())),
				slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, filter eventFilter) error {
	updates, cancel := s.fanout.Subscribe(wsBuffer)
	defer cancel()

	// Subscribing first means nothing published during the replay is missed;
	// live records already covered by the replay are skipped by sequence.
	var next uint64
	if filter.replay {
		next = filter.from
		for {
			page, err := s.proc.Events(next, wsReplayPage)
			if err != nil {
				return err
			}
			full := len(page) == wsReplayPage
			if full {
				// Leave a call cut off by the page boundary for the next page.
				tail := page[len(page)-1].Sequence
				cut := len(page)
				for cut > 0 && page[cut-1].Sequence == tail {
					cut--
				}
				if cut > 0 {
					page = page[:cut]
				}
			}
			for _, record := range page {
				if filter.match(record) {
					if err := writeEvent(ctx, conn, record); err != nil {
						return err
					}
				}
				next = record.Sequence + 1
			}
			if !full {
				break
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, ok := <-updates:
			if !ok {
				return nil
			}
			if record.Sequence < next || !filter.match(record) {
				continue
			}
			if err := writeEvent(ctx, conn, record); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, record events.Published) error {
	data, err := json.Marshal(newEventJSON(record))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
