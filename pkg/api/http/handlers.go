package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aescanero/dago-probe/internal/application/orchestrator"
	"github.com/aescanero/dago-probe/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// instancesPath is the root of the per-instance management routes
const instancesPath = "/runtime/webhooks/durabletask/instances"

// maxInputBytes bounds the orchestration input accepted on start
const maxInputBytes = 64 << 10

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ManagementURLs is the body returned when an orchestration is started
type ManagementURLs struct {
	ID                    string `json:"id"`
	StatusQueryGetURI     string `json:"statusQueryGetUri"`
	SendEventPostURI      string `json:"sendEventPostUri"`
	TerminatePostURI      string `json:"terminatePostUri"`
	PurgeHistoryDeleteURI string `json:"purgeHistoryDeleteUri"`
}

func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{"ui": "ok"}
	status := http.StatusOK

	if s.simulator != nil {
		simulator := gin.H{"active_instances": s.simulator.ActiveCount()}
		if counts, err := s.simulator.CountByStatus(c.Request.Context()); err != nil {
			s.logger.Warn("failed to count instances", zap.Error(err))
			simulator["instances"] = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			byStatus := gin.H{}
			for runtimeStatus, n := range counts {
				byStatus[string(runtimeStatus)] = n
			}
			simulator["instances"] = byStatus
		}
		checks["simulator"] = simulator
	}
	if s.pool != nil {
		health := s.pool.Health().GetStatus()
		checks["workers"] = gin.H{
			"total":     health.TotalWorkers,
			"idle":      health.IdleWorkers,
			"busy":      health.BusyWorkers,
			"stopped":   health.StoppedWorkers,
			"queued":    health.QueuedJobs,
			"saturated": health.Saturated,
		}
		if !health.Healthy {
			status = http.StatusServiceUnavailable
		}
	}

	label := "healthy"
	if status != http.StatusOK {
		label = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":    label,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"sessions":  s.sessions.len(),
		"checks":    checks,
	})
}

// handleStartOrchestration starts a simulated instance
func (s *Server) handleStartOrchestration(c *gin.Context) {
	name := c.Param("name")

	input, err := readInput(c.Request)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	instanceID, err := s.simulator.StartNew(c.Request.Context(), name, input)
	if err != nil {
		if errors.Is(err, orchestrator.ErrUnknownOrchestrator) {
			errorJSON(c, http.StatusNotFound, "ORCHESTRATOR_NOT_FOUND", err.Error())
			return
		}
		s.logger.Error("failed to start orchestration", zap.String("orchestrator", name), zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "START_FAILED", err.Error())
		return
	}

	urls := s.managementURLs(c.Request, instanceID)
	c.Header("Location", urls.StatusQueryGetURI)
	c.JSON(http.StatusAccepted, urls)
}

// handleGetInstanceStatus returns the status document: 202 while running, 200 once terminal
func (s *Server) handleGetInstanceStatus(c *gin.Context) {
	instanceID := c.Param("id")

	instance, err := s.simulator.GetStatus(c.Request.Context(), instanceID)
	if err != nil {
		s.instanceError(c, instanceID, err)
		return
	}

	code := http.StatusOK
	if !instance.RuntimeStatus.IsTerminal() {
		code = http.StatusAccepted
		c.Header("Location", s.managementURLs(c.Request, instanceID).StatusQueryGetURI)
	}

	c.JSON(code, instance)
}

// handleTerminateInstance terminates a running instance
func (s *Server) handleTerminateInstance(c *gin.Context) {
	instanceID := c.Param("id")
	reason := c.Query("reason")

	if err := s.simulator.Terminate(c.Request.Context(), instanceID, reason); err != nil {
		s.instanceError(c, instanceID, err)
		return
	}

	c.Status(http.StatusAccepted)
}

// handlePurgeInstance deletes an instance
func (s *Server) handlePurgeInstance(c *gin.Context) {
	instanceID := c.Param("id")

	if err := s.simulator.Purge(c.Request.Context(), instanceID); err != nil {
		s.instanceError(c, instanceID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"instancesDeleted": 1})
}

func (s *Server) instanceError(c *gin.Context, instanceID string, err error) {
	switch {
	case errors.Is(err, domain.ErrInstanceNotFound):
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", "Instance not found")
	case errors.Is(err, domain.ErrInstanceTerminal):
		errorJSON(c, http.StatusGone, "INSTANCE_COMPLETED", err.Error())
	default:
		s.logger.Error("instance operation failed", zap.String("instance_id", instanceID), zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

// managementURLs builds the per-instance URLs as seen by the caller
func (s *Server) managementURLs(r *http.Request, instanceID string) ManagementURLs {
	scheme, host := requestOrigin(r, s.ui.TrustForwarded)
	base := scheme + "://" + host + instancesPath + "/" + url.PathEscape(instanceID)

	qs := "taskHub=" + url.QueryEscape(s.taskHub) + "&connection=Storage"

	return ManagementURLs{
		ID:                    instanceID,
		StatusQueryGetURI:     base + "?" + qs,
		SendEventPostURI:      base + "/raiseEvent/{eventName}?" + qs,
		TerminatePostURI:      base + "/terminate?reason={text}&" + qs,
		PurgeHistoryDeleteURI: base + "?" + qs,
	}
}

// readInput decodes an optional JSON body
func readInput(r *http.Request) (interface{}, error) {
	if r.Body == nil {
		return nil, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxInputBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, errors.New("input is not valid JSON")
	}
	return input, nil
}
