package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/remote"
)

// notifyChannel is the Postgres channel the row triggers announce on.
const notifyChannel = "todosync_changes"

// changeListener relays Postgres notifications to a hub.
type changeListener struct {
	l      *pq.Listener
	hub    *remote.Hub
	logger *slog.Logger
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func listen(dsn string, hub *remote.Hub, logger *slog.Logger) (*changeListener, error) {
	cl := &changeListener{hub: hub, logger: logger, done: make(chan struct{})}
	cl.l = pq.NewListener(dsn, 100*time.Millisecond, 10*time.Second, cl.onEvent)
	if err := cl.l.Listen(notifyChannel); err != nil {
		cl.l.Close()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}
	cl.wg.Add(1)
	go cl.run()
	return cl, nil
}

func (cl *changeListener) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		cl.logger.Warn("change feed disconnected", "error", err)
	case pq.ListenerEventReconnected:
		// Notifications sent while disconnected are lost; subscribers
		// recover by reloading.
		cl.logger.Warn("change feed reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		cl.logger.Debug("change feed reconnect failed", "error", err)
	}
}

func (cl *changeListener) run() {
	defer cl.wg.Done()
	for {
		select {
		case <-cl.done:
			return
		case n, ok := <-cl.l.Notify:
			if !ok {
				return
			}
			if n == nil {
				continue // reconnect marker
			}
			rc, err := decodeNotification(n.Extra)
			if err != nil {
				cl.logger.Warn("dropping malformed change notification", "error", err)
				continue
			}
			cl.hub.Publish(rc)
		}
	}
}

func (cl *changeListener) Close() {
	cl.once.Do(func() {
		close(cl.done)
		cl.l.Close()
		cl.wg.Wait()
	})
}

// decodeNotification parses a trigger payload:
//
//	{"table":"todos","type":"insert","record":{...}}
func decodeNotification(payload string) (model.RowChange, error) {
	var raw struct {
		Table  string         `json:"table"`
		Type   string         `json:"type"`
		Record map[string]any `json:"record"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return model.RowChange{}, fmt.Errorf("decode notification: %w", err)
	}
	kind, err := model.ParseChangeKind(raw.Type)
	if err != nil {
		return model.RowChange{}, fmt.Errorf("decode notification: %w", err)
	}
	if raw.Table == "" || raw.Record == nil {
		return model.RowChange{}, fmt.Errorf("decode notification: table and record required")
	}
	return model.RowChange{Table: raw.Table, Kind: kind, Row: normalize(model.Row(raw.Record))}, nil
}
