package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"refinery/internal/gateway/service/refinement"
	"refinery/internal/types"
)

const (
	refineWSWriteWait = 10 * time.Second
	refineWSPongWait  = 60 * time.Second
	refineWSPingEvery = (refineWSPongWait * 9) / 10
	refineWSReadLimit = maxRefineBodyBytes
	refineWSQueueSize = 32
)

var refineWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type refineWSInbound struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	InputText string `json:"inputText,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

type refineWSOutbound struct {
	Type     string                  `json:"type"`
	ID       string                  `json:"id,omitempty"`
	Result   *types.RefinementResult `json:"result,omitempty"`
	RecordID string                  `json:"recordId,omitempty"`
	InputID  string                  `json:"inputId,omitempty"`
	Code     string                  `json:"code,omitempty"`
	Message  string                  `json:"message,omitempty"`
}

// RefineWSHandler runs refinements over a websocket. Each connection holds
// at most one pending submission; a second one is answered with "busy"
// and the first keeps running.
type RefineWSHandler struct {
	svc *refinement.Service
	log *slog.Logger
}

func NewRefineWSHandler(svc *refinement.Service, logger *slog.Logger) *RefineWSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefineWSHandler{svc: svc, log: logger}
}

func (h *RefineWSHandler) HandleRefineWS(w http.ResponseWriter, r *http.Request) {
	conn, err := refineWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(refineWSReadLimit)
	if err := conn.SetReadDeadline(time.Now().Add(refineWSPongWait)); err != nil {
		h.log.Warn("refine ws set read deadline failed", "err", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(refineWSPongWait))
	})

	writeCh := make(chan refineWSOutbound, refineWSQueueSize)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// Closing unblocks the read loop when the session ends from this side;
		// canceling releases senders waiting on a full queue.
		defer conn.Close()
		defer cancel()
		ticker := time.NewTicker(refineWSPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(refineWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(refineWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	var pending atomic.Bool
	for {
		var in refineWSInbound
		if err := conn.ReadJSON(&in); err != nil {
			h.log.Debug("refine ws session closed", "err", err)
			cancel()
			<-writerDone
			return
		}
		switch strings.ToLower(strings.TrimSpace(in.Type)) {
		case "ping":
			pushRefineWS(ctx, writeCh, refineWSOutbound{Type: "pong", ID: in.ID})
		case "submit":
			if !pending.CompareAndSwap(false, true) {
				pushRefineWS(ctx, writeCh, refineWSOutbound{
					Type:    "busy",
					ID:      in.ID,
					Message: "a submission is already in progress",
				})
				continue
			}
			pushRefineWS(ctx, writeCh, refineWSOutbound{Type: "accepted", ID: in.ID})
			go h.runSubmission(ctx, writeCh, &pending, in)
		case "":
			pushRefineWS(ctx, writeCh, refineWSOutbound{
				Type:    "error",
				ID:      in.ID,
				Code:    "invalid_argument",
				Message: "type is required",
			})
		default:
			pushRefineWS(ctx, writeCh, refineWSOutbound{
				Type:    "error",
				ID:      in.ID,
				Code:    "invalid_argument",
				Message: "unsupported type: " + in.Type,
			})
		}
	}
}

func (h *RefineWSHandler) runSubmission(ctx context.Context, writeCh chan<- refineWSOutbound, pending *atomic.Bool, in refineWSInbound) {
	res, saved, err := h.svc.Submit(ctx, in.UserID, in.InputText)
	pending.Store(false)
	if err != nil {
		pushRefineWS(ctx, writeCh, refineWSOutbound{
			Type:    "error",
			ID:      in.ID,
			Code:    types.KindOf(err),
			Message: refinement.UserMessage(err),
		})
		return
	}
	pushRefineWS(ctx, writeCh, refineWSOutbound{Type: "result", ID: in.ID, Result: &res})

	out := <-saved
	if out.Err != nil {
		pushRefineWS(ctx, writeCh, refineWSOutbound{
			Type:    "save_failed",
			ID:      in.ID,
			Code:    types.KindOf(out.Err),
			Message: "result shown but not saved to history",
		})
		return
	}
	pushRefineWS(ctx, writeCh, refineWSOutbound{
		Type:     "saved",
		ID:       in.ID,
		RecordID: out.Record.ID,
		InputID:  out.Record.InputID,
	})
}

// pushRefineWS queues out for the writer. A "pong" is dropped when the queue
// is full; every other message waits for room until the session ends.
func pushRefineWS(ctx context.Context, writeCh chan<- refineWSOutbound, out refineWSOutbound) bool {
	if writeCh == nil {
		return false
	}
	if out.Type == "pong" {
		select {
		case writeCh <- out:
			return true
		default:
			return false
		}
	}
	select {
	case writeCh <- out:
		return true
	case <-ctx.Done():
		return false
	}
}
