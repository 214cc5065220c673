package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// handleWSChat upgrades to WebSocket and serves chat messages over one
// connection. Each message is a chatRequest; each reply a chatResponse.
// Messages on a connection are processed in order, one at a time.
func (s *Server) handleWSChat(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "session ended")

	ctx := r.Context()
	s.logger.Debug("websocket chat connected", "remote", r.RemoteAddr)

	for {
		var req chatRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) || ctx.Err() != nil {
				return
			}
			s.logger.Debug("websocket read failed", "error", err)
			return
		}

		if req.Message == "" {
			s.wsSend(ctx, conn, chatResponse{SessionID: req.SessionID, Error: "message is required"})
			continue
		}

		loop, err := s.sessions.GetOrCreate(req.SessionID)
		if err != nil {
			s.wsSend(ctx, conn, chatResponse{SessionID: req.SessionID, Error: err.Error()})
			continue
		}

		s.wsSend(ctx, conn, s.runChat(ctx, loop, req.Message))
	}
}

func (s *Server) wsSend(ctx context.Context, conn *websocket.Conn, resp chatResponse) {
	if err := wsjson.Write(ctx, conn, resp); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
	}
}
