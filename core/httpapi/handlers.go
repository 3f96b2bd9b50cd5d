package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/m3rciful/privybot/core/conversation"
	"github.com/m3rciful/privybot/core/credential"
	"github.com/m3rciful/privybot/core/logger"
	"github.com/m3rciful/privybot/core/queue"
	"github.com/m3rciful/privybot/core/service"
	"github.com/m3rciful/privybot/core/transport"
	"github.com/m3rciful/privybot/core/transport/graph"
	"github.com/m3rciful/privybot/core/transport/twilio"
)

const (
	maxBodyBytes  = 1 << 20
	apiTransport  = "api"
	emptyResponse = "<Response></Response>"
)

type healthResponse struct {
	Status         string    `json:"status"`
	TokenValid     *bool     `json:"tokenValid,omitempty"`
	WillExpireSoon bool      `json:"willExpireSoon"`
	LastError      string    `json:"lastError,omitempty"`
	Storage        string    `json:"storage"`
	Uptime         float64   `json:"uptime"`
	Timestamp      time.Time `json:"timestamp"`
}

// health reports 200 while the store answers and, when the Graph transport
// is enabled, the token is valid and not about to expire.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Storage: "ok", Timestamp: s.opts.Now().UTC()}
	resp.Uptime = s.opts.Now().Sub(s.started).Seconds()
	healthy := true

	if s.opts.Store != nil {
		if err := s.opts.Store.Ping(r.Context()); err != nil {
			resp.Storage = err.Error()
			healthy = false
		}
	}
	if s.opts.Tokens != nil {
		valid := s.opts.Tokens.ValidateAndUpdateToken(r.Context())
		resp.TokenValid = &valid
		resp.WillExpireSoon = s.opts.Tokens.WillExpireSoon()
		resp.LastError = s.opts.Tokens.Info().LastError
		healthy = healthy && valid && !resp.WillExpireSoon
	}

	code := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	JSON(w, code, resp)
}

type queueStats struct {
	Pending int    `json:"pending"`
	Done    uint64 `json:"done"`
	Errors  uint64 `json:"errors"`
}

type statusResponse struct {
	Status      string                   `json:"status"`
	Version     string                   `json:"version,omitempty"`
	Token       *credential.Info         `json:"token,omitempty"`
	Connections []transport.ConnSnapshot `json:"connections"`
	Queues      map[string]queueStats    `json:"queues"`
	Timestamp   time.Time                `json:"timestamp"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Status:      "ok",
		Version:     s.opts.Version,
		Connections: []transport.ConnSnapshot{},
		Queues:      map[string]queueStats{},
		Timestamp:   s.opts.Now().UTC(),
	}
	if s.opts.Tokens != nil {
		info := s.opts.Tokens.Info()
		resp.Token = &info
		if info.State == credential.StateInvalid {
			resp.Status = "degraded"
		}
	}
	for _, c := range s.opts.Connections {
		snap := c.Snapshot()
		resp.Connections = append(resp.Connections, snap)
		if snap.State != transport.StateConnected {
			resp.Status = "degraded"
		}
	}
	for name, q := range map[string]*queue.Queue{"inbound": s.opts.Inbox, "outbound": s.opts.Outbox} {
		if q != nil {
			resp.Queues[name] = queueStats{Pending: q.Len(), Done: q.DoneCount(), Errors: q.ErrorCount()}
		}
	}
	JSON(w, http.StatusOK, resp)
}

// token forces a validation and reports the masked token view.
func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	if s.opts.Tokens == nil {
		Error(w, http.StatusServiceUnavailable, "graph transport not configured")
		return
	}
	valid := s.opts.Tokens.ValidateAndUpdateToken(r.Context())
	JSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"tokenValid": valid,
		"tokenInfo":  s.opts.Tokens.Info(),
	})
}

type sendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
	// Deliver names a transport that should also receive the reply.
	Deliver string `json:"deliver,omitempty"`
}

type sendResponse struct {
	Status   string                `json:"status"`
	UserID   string                `json:"userId"`
	Step     conversation.Step     `json:"step"`
	Response string                `json:"response"`
	Options  []conversation.Option `json:"options"`
}

// send runs one message through the conversation for a phone number and
// returns the reply.
func (s *Server) send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.PhoneNumber) == "" || strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "phone number and message are required")
		return
	}

	in := service.Inbound{Transport: apiTransport, From: req.PhoneNumber, Body: req.Message}
	if req.Deliver != "" {
		if _, ok := s.opts.Service.Transport(req.Deliver); !ok {
			Error(w, http.StatusBadRequest, "unknown transport "+req.Deliver)
			return
		}
		in.Transport = req.Deliver
	}
	out, err := s.opts.Service.Handle(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}

	status := "processed"
	if req.Deliver != "" {
		if err := s.opts.Service.Deliver(r.Context(), in, out); err != nil {
			writeError(w, err)
			return
		}
		status = "message_sent"
	}
	options := out.Reply.Options
	if options == nil {
		options = []conversation.Option{}
	}
	JSON(w, http.StatusOK, sendResponse{
		Status:   status,
		UserID:   out.Session.UserID,
		Step:     out.Session.CurrentStep,
		Response: out.Reply.Message,
		Options:  options,
	})
}

func (s *Server) reconnect(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Reconnect == nil {
		Error(w, http.StatusServiceUnavailable, "no persistent client configured")
		return
	}
	if !s.opts.Reconnect() {
		JSON(w, http.StatusAccepted, map[string]string{"status": "reconnect_pending"})
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
}

func (s *Server) graphVerify(w http.ResponseWriter, r *http.Request) {
	challenge, err := graph.Verify(r.URL.Query(), s.opts.Meta.VerifyToken)
	if err != nil {
		logger.LogEvent(r.Context(), logger.HTTP, slog.LevelWarn, "webhook.verify", slog.String("status", "fail"))
		Error(w, http.StatusForbidden, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

func (s *Server) graphInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		Error(w, http.StatusBadRequest, "read body")
		return
	}
	if s.opts.Meta.AppSecret != "" {
		if err := graph.VerifySignature(s.opts.Meta.AppSecret, body, r.Header.Get("X-Hub-Signature-256")); err != nil {
			Error(w, http.StatusUnauthorized, err.Error())
			return
		}
	}
	messages, err := graph.ParseWebhook(body)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, m := range messages {
		in := service.Inbound{Transport: graph.Name, From: m.From, Body: m.Text, MessageID: m.MessageID}
		if err := s.enqueue(r.Context(), in); err != nil {
			writeError(w, err)
			return
		}
	}
	JSON(w, http.StatusOK, map[string]any{"status": "received", "messages": len(messages)})
}

func (s *Server) twilioInbound(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		Error(w, http.StatusBadRequest, "invalid form body")
		return
	}
	if s.opts.Twilio.ValidateSignature {
		if err := twilio.ValidateSignature(s.opts.Twilio.AuthToken, s.publicURL(r), r.PostForm, r.Header.Get("X-Twilio-Signature")); err != nil {
			Error(w, http.StatusForbidden, err.Error())
			return
		}
	}
	msg, ok := twilio.ParseInbound(r.PostForm)
	if ok {
		in := service.Inbound{Transport: twilio.Name, From: msg.From, Body: msg.Text, MessageID: msg.MessageID}
		if err := s.enqueue(r.Context(), in); err != nil {
			writeError(w, err)
			return
		}
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, emptyResponse)
}

func (s *Server) publicURL(r *http.Request) string {
	if s.opts.Twilio.PublicURL != "" {
		return s.opts.Twilio.PublicURL
	}
	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") == "" {
		scheme = "http"
	} else if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// enqueue hands a webhook message to the inbound queue so the provider gets
// its answer before generation and delivery run.
func (s *Server) enqueue(ctx context.Context, in service.Inbound) error {
	run := func(ctx context.Context) error {
		err := s.opts.Service.Receive(ctx, in)
		if errors.Is(err, service.ErrEmptyMessage) {
			return nil
		}
		return err
	}
	if s.opts.Inbox == nil {
		return run(ctx)
	}
	return s.opts.Inbox.Enqueue(ctx, "receive", in.Transport+":"+in.From, run)
}
