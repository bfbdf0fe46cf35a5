package http

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/aescanero/dago-probe/pkg/controller"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// pageData is the view model of the index template
type pageData struct {
	Orchestrator  string
	Alert         string
	StatusURL     string
	StatusText    string
	RuntimeStatus string
	CheckedAt     string
}

// handleIndex serves a fresh page: every load starts a new, Idle session
func (s *Server) handleIndex(c *gin.Context) {
	sess := s.newSession(c)
	s.render(c, sess.controller.State())
}

// handleUIStart runs startOrchestration for the caller's session
func (s *Server) handleUIStart(c *gin.Context) {
	sess := s.currentSession(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.ui.ActionTimeout)
	defer cancel()

	if err := sess.controller.Start(ctx); err != nil {
		s.logger.Debug("UI start failed", zap.String("session", sess.id), zap.Error(err))
	}

	s.render(c, sess.controller.State())
}

// handleUICheck runs checkStatus for the caller's session
func (s *Server) handleUICheck(c *gin.Context) {
	sess := s.currentSession(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.ui.ActionTimeout)
	defer cancel()

	if err := sess.controller.CheckStatus(ctx); err != nil {
		s.logger.Debug("UI check failed", zap.String("session", sess.id), zap.Error(err))
	}

	s.render(c, sess.controller.State())
}

// currentSession returns the session named by the cookie, or a new one when
// the cookie is missing or expired
func (s *Server) currentSession(c *gin.Context) *session {
	if id, err := c.Cookie(sessionCookie); err == nil {
		if sess, ok := s.sessions.get(id); ok {
			return sess
		}
	}
	return s.newSession(c)
}

func (s *Server) newSession(c *gin.Context) *session {
	baseURL := s.platformURL(c.Request)

	var origin *url.URL
	if u, err := url.Parse(baseURL); err == nil {
		origin = &url.URL{Scheme: u.Scheme, Host: u.Host}
	}

	ctrl := controller.New(s.client, controller.Config{
		BaseURL:       baseURL,
		Orchestrator:  s.ui.Orchestrator,
		Input:         s.ui.Input,
		Origin:        origin,
		RewriteOrigin: s.ui.RewriteOrigin,
	}, s.logger, s.metrics)

	sess := s.sessions.create(ctrl)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, sess.id, int(s.sessions.ttl/time.Second), "/", "", false, true)

	return sess
}

// platformURL is the root the session's controller calls: the configured
// base URL, else the address this connection was accepted on. Request
// headers never choose it.
func (s *Server) platformURL(r *http.Request) string {
	if s.ui.BaseURL != "" {
		return s.ui.BaseURL
	}
	if local, ok := localOrigin(r); ok {
		return local.String()
	}
	return s.selfURL
}

// displayURL moves the status URL onto the origin the caller sees
func (s *Server) displayURL(r *http.Request, statusURL string) string {
	if statusURL == "" || !s.ui.RewriteOrigin {
		return statusURL
	}
	scheme, host := requestOrigin(r, s.ui.TrustForwarded)
	shown, err := controller.RewriteAuthority(statusURL, &url.URL{Scheme: scheme, Host: host})
	if err != nil {
		return statusURL
	}
	return shown
}

func (s *Server) render(c *gin.Context, state controller.State) {
	data := pageData{
		Orchestrator:  s.ui.Orchestrator,
		Alert:         state.Alert,
		StatusURL:     s.displayURL(c.Request, state.StatusURL()),
		StatusText:    state.StatusText(),
		RuntimeStatus: state.RuntimeStatus(),
	}
	if state.Snapshot != nil {
		data.CheckedAt = state.Snapshot.ObservedAt.Format(time.RFC3339)
	}

	c.Header("Cache-Control", "no-store")
	c.HTML(http.StatusOK, "index.html", data)
}
