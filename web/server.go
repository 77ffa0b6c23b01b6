// Package web exposes the robot over a small JSON HTTP API plus a websocket
// status stream.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/edaniels/golog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/strider-bot/strider/robot"
)

// statusPushInterval is how often the websocket pushes a fresh snapshot.
const statusPushInterval = 500 * time.Millisecond

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server routes HTTP and websocket traffic to the robot.
type Server struct {
	robot  *robot.Robot
	logger golog.Logger
}

// NewServer returns a server over the given robot.
func NewServer(r *robot.Robot, logger golog.Logger) *Server {
	return &Server{robot: r, logger: logger}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.StatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/walk", s.WalkHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/head", s.HeadHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/posture", s.PostureHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/ws", s.StatusSocketHandler)
	return r
}

// WalkRequest asks for both legs to run at signed rates for a duration.
type WalkRequest struct {
	Left       int `json:"left"`
	Right      int `json:"right"`
	DurationMs int `json:"duration_ms"`
}

// HeadRequest turns the head, or shakes it.
type HeadRequest struct {
	Degrees float64 `json:"degrees"`
	Rate    float64 `json:"rate"`
	Shake   bool    `json:"shake"`
}

// PostureRequest folds (1), unfolds (-1), or stops (0) the legs.
type PostureRequest struct {
	Mode int `json:"mode"`
}

type result struct {
	OK bool `json:"ok"`
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Errorw("write response failed", "error", err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// StatusHandler returns the full robot snapshot.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.robot.Status())
}

// WalkHandler dispatches a walk and returns immediately.
func (s *Server) WalkHandler(w http.ResponseWriter, r *http.Request) {
	var req WalkRequest
	if !decode(w, r, &req) {
		return
	}
	ok := s.robot.Walk(r.Context(), req.Left, req.Right, time.Duration(req.DurationMs)*time.Millisecond)
	s.writeJSON(w, result{OK: ok})
}

// HeadHandler turns or shakes the head, blocking until the motion ends.
func (s *Server) HeadHandler(w http.ResponseWriter, r *http.Request) {
	var req HeadRequest
	if !decode(w, r, &req) {
		return
	}
	var ok bool
	if req.Shake {
		ok = s.robot.ShakeHead(r.Context())
	} else {
		ok = s.robot.TurnHead(r.Context(), req.Degrees, req.Rate)
	}
	s.writeJSON(w, result{OK: ok})
}

// PostureHandler folds or unfolds the legs, blocking until the mechanism
// settles.
func (s *Server) PostureHandler(w http.ResponseWriter, r *http.Request) {
	var req PostureRequest
	if !decode(w, r, &req) {
		return
	}
	ok, err := s.robot.FoldLegs(r.Context(), req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, result{OK: ok})
}

// SocketCommand is one inbound websocket message.
type SocketCommand struct {
	Command    string  `json:"command"`
	Left       int     `json:"left"`
	Right      int     `json:"right"`
	DurationMs int     `json:"duration_ms"`
	Degrees    float64 `json:"degrees"`
	Rate       float64 `json:"rate"`
	Mode       int     `json:"mode"`
}

// StatusSocketHandler streams status snapshots and accepts motion commands
// over one websocket connection.
func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	// Read and process incoming messages
	go func() {
		for {
			var msg SocketCommand
			if err := conn.ReadJSON(&msg); err != nil {
				cancel()
				conn.Close()
				break
			}
			s.dispatch(ctx, msg)
		}
	}()

	send := func() bool {
		data, err := json.Marshal(s.robot.Status())
		if err != nil {
			s.logger.Errorw("marshal status failed", "error", err)
			return false
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return false
		}
		return true
	}

	if !send() {
		return
	}
	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, msg SocketCommand) {
	switch msg.Command {
	case "walk":
		s.robot.Walk(ctx, msg.Left, msg.Right, time.Duration(msg.DurationMs)*time.Millisecond)
	case "stop":
		s.robot.Walk(ctx, 0, 0, 0)
	case "head":
		s.robot.TurnHead(ctx, msg.Degrees, msg.Rate)
	case "shake":
		s.robot.ShakeHead(ctx)
	case "posture":
		if _, err := s.robot.FoldLegs(ctx, msg.Mode); err != nil {
			s.logger.Errorw("posture command failed", "error", err)
		}
	default:
		s.logger.Debugw("unknown websocket command", "command", msg.Command)
	}
}
