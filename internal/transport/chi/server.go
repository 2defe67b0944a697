package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/logger"
	healthuc "github.com/kailas-cloud/threadscout/internal/usecase/health"
	usageuc "github.com/kailas-cloud/threadscout/internal/usecase/usage"
)

// ModelKeyHeader carries a caller-supplied model API credential.
const ModelKeyHeader = "X-Model-API-Key"

// maxBodyBytes bounds POST bodies; queries are at most a few hundred bytes.
const maxBodyBytes = 16 << 10

// Error codes returned in ErrorResponse.Code.
const (
	CodeBadRequest          = "bad_request"
	CodeUnauthorized        = "unauthorized"
	CodeInvalidQuery        = "invalid_query"
	CodeRateLimited         = "rate_limited"
	CodeUpstreamRateLimited = "upstream_rate_limited"
	CodeUpstreamTimeout     = "upstream_timeout"
	CodeBudgetExceeded      = "budget_exceeded"
	CodeNotFound            = "not_found"
	CodeMethodNotAllowed    = "method_not_allowed"
	CodeInternal            = "internal_error"
)

type discoverer interface {
	Discover(ctx context.Context, req domain.DiscoveryRequest) (*domain.DiscoveryResponse, error)
}

type detailer interface {
	GetDetails(ctx context.Context, permalink string) string
}

type usageReporter interface {
	GetReport(ctx context.Context) usageuc.Report
	Latest() (domain.RateLimitSnapshot, bool)
}

type healthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RetryAfterMs *int64 `json:"retry_after_ms,omitempty"`
}

// SearchRequest is the POST /api/v1/search body.
type SearchRequest struct {
	Query     string `json:"query"`
	Sort      string `json:"sort,omitempty"`
	TimeRange string `json:"time_range,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
}

// DetailsResponse is the GET /api/v1/posts/details body.
type DetailsResponse struct {
	Permalink string `json:"permalink"`
	Details   string `json:"details"`
}

// searchParams are the GET /api/v1/search query parameters.
type searchParams struct {
	Q         string
	Sort      *string
	TimeRange *string
}

// Server serves the threadscout HTTP API.
type Server struct {
	discovery     discoverer
	details       detailer
	usage         usageReporter
	health        healthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler

	limiter   inboundLimiter
	identity  IdentityResolver
	usageTick time.Duration
}

// ServerOption configures optional Server behaviour.
type ServerOption func(*Server)

// WithInboundLimiter throttles search requests per caller identity. The check
// runs after request validation, so a rejected malformed request does not use
// up the caller's window.
func WithInboundLimiter(l inboundLimiter, identity IdentityResolver) ServerOption {
	return func(s *Server) {
		s.limiter = l
		s.identity = identity
	}
}

// WithUsageTick sets the interval between usage stream events.
func WithUsageTick(d time.Duration) ServerOption {
	return func(s *Server) { s.usageTick = d }
}

// NewServer creates an HTTP API server.
func NewServer(
	discovery discoverer,
	details detailer,
	usage usageReporter,
	health healthChecker,
	logger *zap.Logger,
	opts ...ServerOption,
) *Server {
	s := &Server{
		discovery: discovery,
		details:   details,
		usage:     usage,
		health:    health,
		logger:    logger,
		usageTick: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, CodeInvalidQuery),
		rateLimitHandler(domain.ErrRateLimited, CodeRateLimited),
		rateLimitHandler(domain.ErrUpstreamRateLimited, CodeUpstreamRateLimited),
		sentinelHandler(domain.ErrUpstreamTimeout, http.StatusGatewayTimeout, CodeUpstreamTimeout),
		sentinelHandler(context.DeadlineExceeded, http.StatusGatewayTimeout, CodeUpstreamTimeout),
		sentinelHandler(domain.ErrBudgetExceeded, http.StatusPaymentRequired, CodeBudgetExceeded),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
	}
	return s
}

// Search handles POST /api/v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var body SearchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	apiKey := body.APIKey
	if apiKey == "" {
		apiKey = r.Header.Get(ModelKeyHeader)
	}
	s.discover(w, r, body.Query, body.Sort, body.TimeRange, apiKey)
}

// SearchGet handles GET /api/v1/search?q=&sort=&t=.
func (s *Server) SearchGet(w http.ResponseWriter, r *http.Request) {
	var params searchParams
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, true, "q", query, &params.Q); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidQuery, err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "sort", query, &params.Sort); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidQuery, err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "t", query, &params.TimeRange); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidQuery, err.Error())
		return
	}

	s.discover(w, r, params.Q, deref(params.Sort), deref(params.TimeRange), r.Header.Get(ModelKeyHeader))
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request, q, sortBy, tr, apiKey string) {
	q, err := domain.NormalizeQuery(q)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	sortOrder, err := domain.ParseSortOrder(sortBy)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	timeRange, err := domain.ParseTimeRange(tr)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	if s.limiter != nil {
		if d := s.limiter.Check(s.identity.Identity(r)); !d.Allowed {
			writeRateLimited(w, CodeRateLimited, domain.ErrRateLimited.Error(), d.RetryAfter)
			return
		}
	}

	resp, err := s.discovery.Discover(r.Context(), domain.DiscoveryRequest{
		Query:     q,
		Sort:      sortOrder,
		TimeRange: timeRange,
		APIKey:    strings.TrimSpace(apiKey),
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	w.Header().Set("X-Cache", cacheHeader(resp.Cached))
	writeJSON(w, http.StatusOK, resp)
}

// GetDetails handles GET /api/v1/posts/details?permalink=.
func (s *Server) GetDetails(w http.ResponseWriter, r *http.Request) {
	var permalink string
	if err := runtime.BindQueryParameter("form", true, true, "permalink", r.URL.Query(), &permalink); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	permalink = strings.TrimSpace(permalink)
	if permalink == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "permalink is required")
		return
	}

	writeJSON(w, http.StatusOK, DetailsResponse{
		Permalink: permalink,
		Details:   s.details.GetDetails(r.Context(), permalink),
	})
}

// GetUsage handles GET /api/v1/usage.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.usage.GetReport(r.Context()))
}

// StreamUsage handles GET /api/v1/usage/stream. It sends the interpolated
// rate-limit estimate as server-sent events every tick until the provider
// window has recovered or the client goes away.
func (s *Server) StreamUsage(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.usage.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "no rate limit observed yet")
		return
	}

	rc := http.NewResponseController(w)
	// The stream may outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for est := range usageuc.Run(r.Context(), snap, s.usageTick, time.Now) {
		data, err := json.Marshal(est)
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "event: estimate\ndata: %s\n\n", data); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, report)
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// NotFound answers unknown routes with a JSON body.
func (s *Server) NotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
}

// MethodNotAllowed answers known routes hit with the wrong method.
func (s *Server) MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
}

func cacheHeader(cached bool) string {
	if cached {
		return "HIT"
	}
	return "MISS"
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// writeRateLimited sets Retry-After (whole seconds, rounded up) and the
// millisecond hint in the body.
func writeRateLimited(w http.ResponseWriter, code, message string, retryAfter time.Duration) {
	resp := ErrorResponse{Code: code, Message: message}
	if retryAfter > 0 {
		ms := retryAfter.Milliseconds()
		resp.RetryAfterMs = &ms
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}
	writeJSON(w, http.StatusTooManyRequests, resp)
}

// safeDomainMessage returns the validation detail for bad input and a
// sentinel message otherwise, without exposing internals.
func safeDomainMessage(err error) string {
	if errors.Is(err, domain.ErrInvalidQuery) {
		return err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrUpstreamTimeout.Error()
	}
	sentinels := []error{
		domain.ErrRateLimited,
		domain.ErrUpstreamRateLimited,
		domain.ErrUpstreamTimeout,
		domain.ErrBudgetExceeded,
		domain.ErrNotFound,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// rateLimitHandler answers 429 with the retry hint carried by the error.
func rateLimitHandler(sentinel error, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeRateLimited(w, code, msg, domain.RetryAfter(err))
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			log.Warn("domain error", zap.Error(err))
			return
		}
	}
	s.logger.Error("internal error",
		zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
}
