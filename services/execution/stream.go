package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamPingInterval = 30 * time.Second
	streamPongWait     = 60 * time.Second
	streamWriteWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// stream pushes a run snapshot over a websocket every time it changes and
// closes the socket with a normal closure once the run is terminal.
func (h *Handler) stream(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	// Resolve before upgrading so an unknown run is a plain 404.
	run, err := h.svc.GetJobRun(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Warn("[Execution] websocket upgrade failed", zap.Int64("job_run_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	h.watch(c.Request.Context(), conn, run)
}

func (h *Handler) watch(ctx context.Context, conn *websocket.Conn, run *JobRun) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	// Read pump: the client never sends anything we use, but reading is how
	// a disconnect is noticed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()
	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	log := zap.L().With(zap.Int64("job_run_id", run.ID))
	var last []byte
	for {
		payload, err := json.Marshal(run)
		if err != nil {
			log.Error("[Execution] encode run snapshot", zap.Error(err))
			return
		}
		if !bytes.Equal(payload, last) {
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			last = payload
		}
		if run.Status.Terminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(run.Status))
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-poll.C:
			next, err := h.svc.GetJobRun(ctx, run.ID)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("[Execution] reload run for stream", zap.Error(err))
				}
				return
			}
			run = next
		}
	}
}
