package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/omnillm/internal/observe"
)

// requestTimeout bounds how long a client may take to send the request
// frame after the upgrade.
const requestTimeout = 10 * time.Second

// handleStream upgrades to a websocket, reads one [CompletionRequest] frame
// and writes a [StreamFrame] per chunk. The connection closes normally after
// the final frame. A client that closes early cancels generation.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Debug("websocket upgrade failed", "err", err)
		return
	}
	defer c.CloseNow()

	log := observe.Logger(r.Context())
	readCtx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	var req CompletionRequest
	err = wsjson.Read(readCtx, c, &req)
	cancel()
	if err != nil {
		s.failStream(r.Context(), c, badRequest("invalid request frame: "+err.Error()))
		return
	}
	if err := req.validate(); err != nil {
		s.failStream(r.Context(), c, err)
		return
	}

	p, err := s.rt.Provider(req.Provider)
	if err != nil {
		s.failStream(r.Context(), c, err)
		return
	}

	// Further client frames are discarded; a peer close cancels ctx.
	ctx := c.CloseRead(r.Context())

	chunks, err := p.StreamCompletion(ctx, req.Prompt, req.System, s.rt.ApplyDefaults(req.Options.generation()))
	if err != nil {
		s.failStream(ctx, c, err)
		return
	}

	var streamErr error
	finish := ""
	for ch := range chunks {
		if streamErr != nil {
			continue
		}
		if ch.Err != nil {
			streamErr = ch.Err
			continue
		}
		if ch.FinishReason != "" {
			finish = ch.FinishReason
		}
		if ch.Text == "" {
			continue
		}
		if err := wsjson.Write(ctx, c, StreamFrame{Text: ch.Text}); err != nil {
			log.Debug("stream client gone", "err", err)
			streamErr = err
		}
	}
	if streamErr != nil {
		if ctx.Err() == nil {
			s.failStream(ctx, c, streamErr)
		}
		return
	}
	if err := wsjson.Write(ctx, c, StreamFrame{Done: true, FinishReason: finish}); err != nil {
		return
	}
	c.Close(websocket.StatusNormalClosure, "")
}

// failStream sends an error frame and closes the connection.
func (s *Server) failStream(ctx context.Context, c *websocket.Conn, err error) {
	body := errorBody(err)
	if werr := wsjson.Write(ctx, c, StreamFrame{Error: &body}); werr != nil {
		return
	}
	code := websocket.StatusNormalClosure
	if statusFor(err) >= 500 {
		code = websocket.StatusInternalError
	}
	c.Close(code, body.Kind)
}
