package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	contributionengine "rewards/contexts/settlement/contribution-engine"
	domainerrors "rewards/contexts/settlement/contribution-engine/domain/errors"
	httptransport "rewards/contexts/settlement/contribution-engine/transport/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
	_ "rewards/internal/platform/httpserver/docs"
)

const logModule = "internal/platform/httpserver"

type Server struct {
	router       chi.Router
	logger       *slog.Logger
	addr         string
	contribution contributionengine.Module
	metrics      http.Handler
	httpServer   *http.Server
}

// New builds the API router. metricsHandler is mounted on /metrics when set.
func New(
	contribution contributionengine.Module,
	metricsHandler http.Handler,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		router:       chi.NewRouter(),
		logger:       logger,
		addr:         addr,
		contribution: contribution,
		metrics:      metricsHandler,
	}
	s.registerRoutes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", logModule,
		"layer", "platform",
		"addr", s.addr,
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics)
	}
	s.router.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.router.Post("/v1/tokens", s.handleIssueTokens)
	s.router.Route("/v1/contributions", func(r chi.Router) {
		r.Post("/", s.handleCreateContribution)
		r.Get("/{contribution_id}", s.handleGetContribution)
		r.Post("/{contribution_id}/start", s.handleStartContribution)
		r.Post("/{contribution_id}/retry", s.handleRetryContribution)
	})
}

// handleIssueTokens godoc
// @Summary Add unblinded tokens to the spendable pool
// @Tags tokens
// @Accept json
// @Produce json
// @Param request body httptransport.IssueTokensRequest true "tokens"
// @Success 201 {object} httptransport.IssueTokensResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Router /v1/tokens [post]
func (s *Server) handleIssueTokens(w http.ResponseWriter, r *http.Request) {
	var req httptransport.IssueTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.contribution.Handler.IssueTokensHandler(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleCreateContribution godoc
// @Summary Record a contribution
// @Tags contributions
// @Accept json
// @Produce json
// @Param request body httptransport.CreateContributionRequest true "contribution"
// @Success 201 {object} httptransport.ContributionResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Router /v1/contributions [post]
func (s *Server) handleCreateContribution(w http.ResponseWriter, r *http.Request) {
	var req httptransport.CreateContributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.contribution.Handler.CreateContributionHandler(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleGetContribution godoc
// @Summary Read a contribution and its allocations
// @Tags contributions
// @Produce json
// @Param contribution_id path string true "contribution id"
// @Success 200 {object} httptransport.ContributionResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/contributions/{contribution_id} [get]
func (s *Server) handleGetContribution(w http.ResponseWriter, r *http.Request) {
	resp, err := s.contribution.Handler.GetContributionHandler(r.Context(), chi.URLParam(r, "contribution_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStartContribution godoc
// @Summary Settle a contribution from its start step
// @Tags contributions
// @Accept json
// @Produce json
// @Param contribution_id path string true "contribution id"
// @Param request body httptransport.SettleRequest false "batch types"
// @Success 200 {object} httptransport.SettleResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Router /v1/contributions/{contribution_id}/start [post]
func (s *Server) handleStartContribution(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSettleRequest(w, r)
	if !ok {
		return
	}
	resp, err := s.contribution.Handler.StartContributionHandler(r.Context(), chi.URLParam(r, "contribution_id"), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRetryContribution godoc
// @Summary Resume a contribution from its persisted step
// @Tags contributions
// @Accept json
// @Produce json
// @Param contribution_id path string true "contribution id"
// @Param request body httptransport.SettleRequest false "batch types"
// @Success 200 {object} httptransport.SettleResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Router /v1/contributions/{contribution_id}/retry [post]
func (s *Server) handleRetryContribution(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSettleRequest(w, r)
	if !ok {
		return
	}
	resp, err := s.contribution.Handler.RetryContributionHandler(r.Context(), chi.URLParam(r, "contribution_id"), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeSettleRequest accepts an empty body as the default batch types.
func decodeSettleRequest(w http.ResponseWriter, r *http.Request) (httptransport.SettleRequest, bool) {
	var req httptransport.SettleRequest
	if r.Body == nil || r.ContentLength == 0 {
		return req, true
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return req, false
	}
	return req, true
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domainerrors.ErrContributionNotFound):
		writeError(w, http.StatusNotFound, "contribution_not_found", err.Error())
	case errors.Is(err, domainerrors.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, domainerrors.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, domainerrors.ErrNotApplicable):
		writeError(w, http.StatusConflict, "not_applicable", err.Error())
	default:
		s.logger.Error("request failed",
			"event", "http_request_failed",
			"module", logModule,
			"layer", "platform",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"error", err.Error(),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, httptransport.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
