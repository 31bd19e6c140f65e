package api

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/iosweep/iosweep/internal/launcher"
	"github.com/iosweep/iosweep/internal/logging"
	"github.com/iosweep/iosweep/internal/metrics"
	"github.com/iosweep/iosweep/internal/results"
	"github.com/iosweep/iosweep/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services,omitempty"`
}

// ReadyResponse is the readiness check response
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
}

// ListSweepsQuery holds the query parameters of GET /sweeps
type ListSweepsQuery struct {
	Mode   string `form:"mode" binding:"omitempty,oneof=ior mdtest"`
	Status string `form:"status" binding:"omitempty,oneof=running complete interrupted failed"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
}

// ListSweepsResponse is the response of GET /sweeps
type ListSweepsResponse struct {
	Sweeps []*storage.Sweep `json:"sweeps"`
	Count  int              `json:"count"`
}

// RowsQuery holds the query parameters of GET /sweeps/:id/rows
type RowsQuery struct {
	Format string `form:"format" binding:"omitempty,oneof=json csv"`
}

// RowsResponse is the JSON response of GET /sweeps/:id/rows
type RowsResponse struct {
	SweepID string        `json:"sweep_id"`
	Mode    string        `json:"mode"`
	Columns []string      `json:"columns"`
	Rows    []results.Row `json:"rows"`
	Count   int           `json:"count"`
}

func (s *Server) handleHealth(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	if s.sweeps != nil {
		if count, err := s.sweeps.Count(c.Request.Context()); err != nil {
			response.Services["database"] = "error"
		} else {
			response.Services["database"] = "ok"
			metrics.SetStoredSweeps(count)
		}
	} else {
		response.Services["database"] = "disabled"
	}

	if !s.ready.Load() {
		response.Status = "unavailable"
		response.Services["ready"] = "false"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	response.Services["ready"] = "true"
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleReady(c *gin.Context) {
	response := ReadyResponse{
		Ready:     s.ready.Load(),
		Timestamp: time.Now(),
	}

	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) storeUnavailable(c *gin.Context) bool {
	if s.sweeps != nil {
		return false
	}
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error:     "sweep store not available",
		RequestID: c.GetString("request_id"),
	})
	return true
}

func (s *Server) handleListSweeps(c *gin.Context) {
	if s.storeUnavailable(c) {
		return
	}

	var query ListSweepsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid query parameters: " + sanitizeValidationError(err),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	sweeps, err := s.sweeps.List(c.Request.Context(), storage.SweepFilter{
		Mode:   query.Mode,
		Status: query.Status,
		Limit:  limit,
	})
	if err != nil {
		s.logger.ErrorContext(c.Request.Context(), "failed to list sweeps", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "failed to list sweeps",
			RequestID: c.GetString("request_id"),
		})
		return
	}
	if sweeps == nil {
		sweeps = []*storage.Sweep{}
	}

	c.JSON(http.StatusOK, ListSweepsResponse{
		Sweeps: sweeps,
		Count:  len(sweeps),
	})
}

func (s *Server) handleGetSweep(c *gin.Context) {
	if s.storeUnavailable(c) {
		return
	}

	sweep, ok := s.lookupSweep(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sweep)
}

func (s *Server) handleGetSweepRows(c *gin.Context) {
	if s.storeUnavailable(c) {
		return
	}

	var query RowsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid query parameters: " + sanitizeValidationError(err),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	sweep, ok := s.lookupSweep(c)
	if !ok {
		return
	}

	ctx := logging.WithSweepID(c.Request.Context(), sweep.ID)
	rows, err := s.sweeps.Rows(ctx, sweep.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load sweep rows", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "failed to load sweep rows",
			RequestID: c.GetString("request_id"),
		})
		return
	}

	mode := launcher.Mode(sweep.Mode)
	if query.Format == "csv" {
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, sweep.ID))
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Status(http.StatusOK)
		if err := results.EncodeRowsCSV(c.Writer, mode, rows); err != nil {
			s.logger.ErrorContext(ctx, "failed to stream csv", "error", err)
		}
		return
	}

	c.JSON(http.StatusOK, RowsResponse{
		SweepID: sweep.ID,
		Mode:    sweep.Mode,
		Columns: results.Columns(mode),
		Rows:    rows,
		Count:   len(rows),
	})
}

func (s *Server) lookupSweep(c *gin.Context) (*storage.Sweep, bool) {
	id := c.Param("id")
	ctx := logging.WithSweepID(c.Request.Context(), id)
	sweep, err := s.sweeps.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "sweep not found",
			RequestID: c.GetString("request_id"),
		})
		return nil, false
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to get sweep", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "failed to get sweep",
			RequestID: c.GetString("request_id"),
		})
		return nil, false
	}
	return sweep, true
}

// sanitizeValidationError turns binding errors into messages that name the
// query parameter instead of the Go struct field.
func sanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err.Error()
	}

	var messages []string
	for _, fe := range validationErrs {
		name := toSnakeCase(fe.Field())
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", name))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", name, fe.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", name, fe.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s", name, strings.ReplaceAll(fe.Param(), " ", ", ")))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation (%s)", name, fe.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}

var snakeBoundary = regexp.MustCompile("([a-z0-9])([A-Z])")

// toSnakeCase converts a PascalCase or camelCase string to snake_case
func toSnakeCase(s string) string {
	return strings.ToLower(snakeBoundary.ReplaceAllString(s, "${1}_${2}"))
}
