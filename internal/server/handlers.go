package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/wine-identify/internal/identify"
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/resilience"
	"github.com/sells-group/wine-identify/internal/routing"
	"github.com/sells-group/wine-identify/internal/session"
	"github.com/sells-group/wine-identify/internal/stream"
)

const (
	sessionHeader   = "X-Session-ID"
	requestIDHeader = "X-Request-ID"
)

// maxBodyBytes leaves room for a base64 encoded image.
const maxBodyBytes = 2*model.MaxImageBytes + 64<<10

// identifyRequest is the body of both identify endpoints. A present image
// makes it an image request with text as the caption.
type identifyRequest struct {
	Text      string `json:"text"`
	Image     []byte `json:"image,omitempty"`
	ImageMIME string `json:"mimeType,omitempty"`
	Enrich    bool   `json:"enrich"`
	SkipCache bool   `json:"skipCache"`
}

func (b identifyRequest) build() (model.IdentificationRequest, identify.Options) {
	opts := identify.Options{Enrich: b.Enrich, SkipCache: b.SkipCache}
	if len(b.Image) > 0 {
		return model.NewImageRequest(b.Image, b.ImageMIME, b.Text), opts
	}
	return model.NewTextRequest(b.Text), opts
}

// errorBody is the failure shape for requests that never reached the
// pipeline.
type errorBody struct {
	Success bool               `json:"success"`
	Error   identify.ErrorInfo `json:"error"`
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decodeIdentify(w http.ResponseWriter, r *http.Request) (model.IdentificationRequest, identify.Options, bool) {
	var body identifyRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return model.IdentificationRequest{}, identify.Options{}, false
	}
	req, opts := body.build()
	return req, opts, true
}

// session returns the session named by the request header, if any.
func (s *Server) session(r *http.Request) *session.Session {
	id := r.Header.Get(sessionHeader)
	if id == "" {
		return nil
	}
	return s.sessions.Get(id)
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	req, opts, ok := s.decodeIdentify(w, r)
	if !ok {
		return
	}
	s.identifySync(w, r, req, opts)
}

func (s *Server) identifySync(w http.ResponseWriter, r *http.Request, req model.IdentificationRequest, opts identify.Options) {
	ctx := r.Context()
	if sess := s.session(r); sess != nil {
		var done func()
		ctx, done = sess.Begin(ctx, req.ID())
		defer done()
	}

	w.Header().Set(requestIDHeader, req.ID())
	resp, err := s.id.Identify(ctx, req, opts)
	if err != nil {
		writeJSON(w, statusFor(err), identify.ErrorResponse(req, err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStream streams progress as server-sent events when streaming is
// enabled for the input's task, and answers synchronously otherwise.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, opts, ok := s.decodeIdentify(w, r)
	if !ok {
		return
	}
	task := routing.TaskForInput(req.Kind())
	if !s.streaming.Allows(string(task)) {
		s.identifySync(w, r, req, opts)
		return
	}

	ctx := r.Context()
	if sess := s.session(r); sess != nil {
		var done func()
		ctx, done = sess.Begin(ctx, req.ID())
		defer done()
	}

	w.Header().Set(requestIDHeader, req.ID())
	sink, err := stream.NewSSEWriter(w)
	if err != nil {
		writeError(w, resilience.NewError(resilience.KindConfig, err))
		return
	}
	if err := s.id.Stream(ctx, sink, req, opts, s.streamTimeout()); err != nil {
		zap.L().Debug("server: stream ended early", zap.String("request_id", req.ID()), zap.Error(err))
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		writeError(w, resilience.Errorf(resilience.KindValidation, "server: %s header is required", sessionHeader))
		return
	}
	sess, ok := s.sessions.Lookup(sessionID)
	if !ok || !sess.Cancel(requestID) {
		writeJSON(w, http.StatusNotFound, map[string]any{"canceled": false, "requestId": requestID})
		return
	}
	zap.L().Info("server: request canceled", zap.String("session", sessionID), zap.String("request_id", requestID))
	writeJSON(w, http.StatusOK, map[string]any{"canceled": true, "requestId": requestID})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var a model.Action
	if err := decodeBody(w, r, &a); err != nil {
		writeError(w, err)
		return
	}
	sess := s.sessions.Get(chi.URLParam(r, "sessionID"))

	res, err := s.actions.Dispatch(r.Context(), sess, a)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.Len()})
		return
	}
	snap, err := s.status.Collect(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// decodeBody decodes a JSON body. Failures are validation errors.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return resilience.Errorf(resilience.KindValidation, "server: request body exceeds %d bytes", tooLarge.Limit)
		}
		return resilience.NewError(resilience.KindValidation, err)
	}
	return nil
}
