package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/services"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// WeatherHandler handles weather API endpoints
type WeatherHandler struct {
	queryService *services.QueryService
	logger       *logging.StructuredLogger
	metrics      *metrics.Collector
}

// NewWeatherHandler creates a new weather handler
func NewWeatherHandler(
	queryService *services.QueryService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *WeatherHandler {
	return &WeatherHandler{
		queryService: queryService,
		logger:       logger,
		metrics:      metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// GetObservations handles GET /api/weather and GET /observations
func (h *WeatherHandler) GetObservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	page, perPage, err := parsePagination(query.Get("page"), query.Get("per_page"))
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	result, err := h.queryService.QueryObservations(ctx, services.ObservationQuery{
		Date:      query.Get("date"),
		StationID: query.Get("station_id"),
		Page:      page,
		PerPage:   perPage,
	})
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	h.logger.Debug(ctx, "[API_GET_OBSERVATIONS] Observations served", logging.Fields{
		"total": result.Total,
		"page":  result.Page,
		"items": len(result.Items),
	})
	h.sendJSON(w, result, http.StatusOK)
}

// GetStatistics handles GET /api/weather/stats and GET /stats
func (h *WeatherHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	page, perPage, err := parsePagination(query.Get("page"), query.Get("per_page"))
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	result, err := h.queryService.QueryStats(ctx, services.StatsQuery{
		Year:      query.Get("year"),
		StationID: query.Get("station_id"),
		Page:      page,
		PerPage:   perPage,
	})
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	h.logger.Debug(ctx, "[API_GET_STATISTICS] Statistics served", logging.Fields{
		"total": result.Total,
		"page":  result.Page,
		"items": len(result.Items),
	})
	h.sendJSON(w, result, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *WeatherHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := h.queryService.HealthCheck(ctx); err != nil {
		h.logger.Warn(ctx, "[HEALTH_CHECK] Store unreachable", logging.Fields{"error": err.Error()})
		status["status"] = "unhealthy"
		h.sendJSON(w, status, http.StatusServiceUnavailable)
		return
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, http.StatusOK)
}

// parsePagination reads page and per_page. Absent values are left at zero
// for the query service to default.
func parsePagination(pageStr, perPageStr string) (int, int, error) {
	page, err := queryInt("page", pageStr)
	if err != nil {
		return 0, 0, err
	}
	perPage, err := queryInt("per_page", perPageStr)
	if err != nil {
		return 0, 0, err
	}
	return page, perPage, nil
}

func queryInt(field, value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, &models.ValidationError{
			Field:   field,
			Value:   value,
			Message: field + " must be an integer",
			Err:     err,
		}
	}
	return n, nil
}

// sendServiceError maps the error taxonomy onto HTTP status codes
func (h *WeatherHandler) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	endpoint := routeTemplate(r)

	var (
		verr *models.ValidationError
		nf   *models.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		h.metrics.RecordAPIError("validation_error", endpoint)
		h.sendError(w, verr.Message, http.StatusBadRequest)
	case errors.As(err, &nf):
		h.sendError(w, nf.Error(), http.StatusNotFound)
	default:
		h.logger.Error(ctx, "[API_ERROR] Query failed", logging.Fields{
			"endpoint": endpoint,
			"query":    r.URL.RawQuery,
		}, err)
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.sendError(w, "failed to retrieve data", http.StatusInternalServerError)
	}
}

// sendJSON sends a JSON response
func (h *WeatherHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	writeJSON(w, data, statusCode)
}

// sendError sends an error response
func (h *WeatherHandler) sendError(w http.ResponseWriter, message string, statusCode int) {
	writeError(w, message, statusCode)
}

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// RegisterRoutes registers all weather API routes
func (h *WeatherHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/weather", h.GetObservations).Methods("GET")
	router.HandleFunc("/observations", h.GetObservations).Methods("GET")
	router.HandleFunc("/api/weather/stats", h.GetStatistics).Methods("GET")
	router.HandleFunc("/stats", h.GetStatistics).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
}
