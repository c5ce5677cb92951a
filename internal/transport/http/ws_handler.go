package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quizrevise/internal/app"
)

// WSHandler streams a user's schedule events and accepts completions.
type WSHandler struct {
	service  *app.SchedulerService
	logger   *zap.Logger
	now      func() time.Time
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SchedulerService, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		logger:  logger,
		now:     time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type submitPayload struct {
	ScheduleID string            `json:"scheduleId"`
	Answers    map[string]string `json:"answers"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the scheduler use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Subscribe before the snapshot so nothing published in between is lost.
	events, cancel, err := h.service.Subscribe(r.Context(), userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	due, err := h.service.GetDueSchedules(r.Context(), userID, h.now())
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	// Single writer goroutine; gorilla connections do not allow concurrent writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write error", zap.String("user_id", userID), zap.Error(err))
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: string(ev.Type), Payload: ev}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	if enqueue(send, writerDone, outboundMessage[any]{Type: "due", Payload: app.Views(due)}) {
		h.readLoop(r.Context(), conn, userID, send, writerDone)
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

// readLoop handles inbound messages until the connection or the writer fails.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, userID string, send chan<- outboundMessage[any], writerDone <-chan struct{}) {
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		var reply outboundMessage[any]
		switch inbound.Type {
		case "submit":
			reply = h.submit(ctx, userID, inbound.Payload)
		default:
			reply = errorMessage("unsupported message type")
		}
		if !enqueue(send, writerDone, reply) {
			return
		}
	}
}

func (h *WSHandler) submit(ctx context.Context, userID string, raw json.RawMessage) outboundMessage[any] {
	var payload submitPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ScheduleID == "" {
		return errorMessage("invalid submit payload")
	}
	done, err := h.service.SubmitCompletionAs(ctx, userID, payload.ScheduleID, payload.Answers)
	if err != nil {
		return errorMessage(err.Error())
	}
	return outboundMessage[any]{Type: "completionResult", Payload: completionResp{
		ScheduleID:    done.ID,
		Status:        string(done.Status),
		Score:         *done.Score,
		CompletedDate: *done.CompletedDate,
	}}
}

func errorMessage(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}

// enqueue hands msg to the writer. It reports false once the writer has exited.
func enqueue(send chan<- outboundMessage[any], writerDone <-chan struct{}, msg outboundMessage[any]) bool {
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}
