package server

import (
	"ExchangeLedger/internal/core"
	"ExchangeLedger/internal/ledger"
	"ExchangeLedger/internal/observability"
	"ExchangeLedger/internal/persistence"
	"ExchangeLedger/internal/projection"
	"ExchangeLedger/internal/query"
	"ExchangeLedger/internal/signing"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// maxAdminBody caps the request body of signed admin routes.
const maxAdminBody = 1 << 20

// GRPCServer wraps the gRPC server and the HTTP/JSON gateway.
type GRPCServer struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	grpcAddr     string
	httpAddr     string
	deps         *ServerDeps
	logger       zerolog.Logger
}

// ServerDeps holds everything the exchange and admin services need.
// Exchange and Verifier are required; the database backed parts may be nil,
// in which case their HTTP routes answer 503.
type ServerDeps struct {
	Exchange      *core.Exchange
	Verifier      *signing.RequestVerifier
	DB            *sql.DB
	QueryService  *query.QueryService
	SnapshotMgr   *persistence.SnapshotManager
	Snapshotter   *persistence.Snapshotter
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// NewGRPCServer creates the gRPC server with the exchange and health
// services registered. Health reports NOT_SERVING until SetServing(true).
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	logger := deps.Logger

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		observeInterceptor(deps.Metrics, logger),
		authInterceptor(deps.Verifier),
	))
	RegisterExchangeServer(grpcServer, &exchangeService{ex: deps.Exchange})

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &GRPCServer{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		grpcAddr:     grpcAddr,
		httpAddr:     httpAddr,
		deps:         deps,
		logger:       logger,
	}
}

// SetServing flips the gRPC health status of the exchange service.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus(ServiceName, st)
	s.healthServer.SetServingStatus("", st)
}

// Serve serves gRPC on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()
	return s.grpcServer.Serve(lis)
}

// StartGRPC listens on the configured address and serves gRPC (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.Serve(ctx, lis)
}

// StartHTTPGateway serves the HTTP/JSON routes (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the HTTP/JSON mux: public reads, owner-signed admin
// routes and the health endpoints.
func (s *GRPCServer) Handler() http.Handler {
	mux := runtime.NewServeMux()

	mux.HandlePath(http.MethodGet, "/v1/info", s.handleInfo)
	mux.HandlePath(http.MethodGet, "/v1/accounts/{account}/balances/{asset}", s.handleBalance)
	mux.HandlePath(http.MethodGet, "/v1/accounts/{account}/nonce", s.handleNonce)
	mux.HandlePath(http.MethodGet, "/v1/accounts/{account}/history", s.handleHistory)

	mux.HandlePath(http.MethodPost, "/v1/admin/snapshots", s.admin(s.handleSnapshot))
	mux.HandlePath(http.MethodPost, "/v1/admin/projections/rebuild", s.admin(s.handleRebuild))
	mux.HandlePath(http.MethodGet, "/v1/admin/integrity", s.admin(s.handleIntegrity))
	mux.HandlePath(http.MethodGet, "/v1/admin/event-log", s.admin(s.handleEventLog))

	httpMux := http.NewServeMux()
	if hc := s.deps.HealthChecker; hc != nil {
		httpMux.HandleFunc("/healthz", hc.LivenessHandler)
		httpMux.HandleFunc("/readyz", hc.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	httpMux.Handle("/", mux)
	return httpMux
}

// --- Public routes ---

func (s *GRPCServer) handleInfo(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, infoResponse(s.deps.Exchange))
}

func (s *GRPCServer) handleBalance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	qs, ok := s.queryService(w)
	if !ok {
		return
	}
	account, err := ledger.ParseAccount(params["account"])
	if err != nil {
		writeError(w, toStatus(err))
		return
	}
	asset, err := ledger.ParseAsset(params["asset"])
	if err != nil {
		writeError(w, toStatus(err))
		return
	}
	resp, err := qs.GetBalance(r.Context(), account, asset)
	if err != nil {
		writeError(w, s.internal("get balance", err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *GRPCServer) handleNonce(w http.ResponseWriter, r *http.Request, params map[string]string) {
	qs, ok := s.queryService(w)
	if !ok {
		return
	}
	account, err := ledger.ParseAccount(params["account"])
	if err != nil {
		writeError(w, toStatus(err))
		return
	}
	resp, err := qs.GetNonce(r.Context(), account)
	if err != nil {
		writeError(w, s.internal("get nonce", err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *GRPCServer) handleHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	qs, ok := s.queryService(w)
	if !ok {
		return
	}
	account, err := ledger.ParseAccount(params["account"])
	if err != nil {
		writeError(w, toStatus(err))
		return
	}

	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			writeError(w, invalidArgument("limit: %v", err))
			return
		}
	}
	var after *int64
	if v := q.Get("after"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, invalidArgument("after: %v", err))
			return
		}
		after = &seq
	}

	page, err := qs.GetJournalHistory(r.Context(), account, limit, after)
	if err != nil {
		writeError(w, s.internal("get history", err))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// --- Admin routes ---

// admin wraps h with owner authentication. The signed method is
// "<HTTP method> <path>" and the signed body is the raw request body.
func (s *GRPCServer) admin(h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBody))
		if err != nil {
			writeError(w, invalidArgument("read body: %v", err))
			return
		}
		caller, err := s.deps.Verifier.Verify(r.Method+" "+r.URL.Path, body, r.Header.Get)
		if err != nil {
			writeError(w, toStatus(err))
			return
		}
		if caller != s.deps.Exchange.Owner() {
			writeError(w, toStatus(fmt.Errorf("%w: admin routes require the owner", ledger.ErrUnauthorized)))
			return
		}
		h(w, r, params)
	}
}

func (s *GRPCServer) handleSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.deps.Snapshotter == nil {
		writeError(w, unavailable("snapshots"))
		return
	}
	if err := s.deps.Snapshotter.Take(r.Context()); err != nil {
		writeError(w, s.internal("take snapshot", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"sequence": s.deps.Exchange.GetSequence() - 1})
}

func (s *GRPCServer) handleRebuild(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.deps.DB == nil {
		writeError(w, unavailable("projections"))
		return
	}
	if err := projection.RebuildProjections(r.Context(), s.deps.DB, s.logger); err != nil {
		writeError(w, s.internal("rebuild projections", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"rebuilt": true})
}

func (s *GRPCServer) handleIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	qs, ok := s.queryService(w)
	if !ok {
		return
	}
	report, err := qs.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, s.internal("verify integrity", err))
		return
	}
	if err := s.deps.Exchange.CheckInvariants(r.Context()); err != nil {
		report.IsHealthy = false
		report.CoreInvariant = err.Error()
	}
	writeJSON(w, http.StatusOK, report)
}

// EventLogInfo compares the committed and persisted heads of the event log.
type EventLogInfo struct {
	CommittedSequence int64  `json:"committed_sequence"`
	PersistedSequence int64  `json:"persisted_sequence"`
	StateHash         string `json:"state_hash"`
}

func (s *GRPCServer) handleEventLog(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.deps.SnapshotMgr == nil {
		writeError(w, unavailable("event log"))
		return
	}
	persisted, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		writeError(w, s.internal("latest sequence", err))
		return
	}
	info := s.deps.Exchange.Info()
	writeJSON(w, http.StatusOK, EventLogInfo{
		CommittedSequence: info.Sequence - 1,
		PersistedSequence: persisted,
		StateHash:         info.StateHash.Hex(),
	})
}

// --- Helpers ---

func (s *GRPCServer) queryService(w http.ResponseWriter) (*query.QueryService, bool) {
	if s.deps.QueryService == nil {
		writeError(w, unavailable("query service"))
		return nil, false
	}
	return s.deps.QueryService, true
}

func (s *GRPCServer) internal(op string, err error) error {
	s.logger.Error().Err(err).Str("op", op).Msg("request failed")
	return status.Errorf(codes.Internal, "%s failed", op)
}

func unavailable(what string) error {
	return status.Errorf(codes.Unavailable, "%s not configured", what)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError answers with the HTTP equivalent of err's gRPC code.
func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), map[string]any{
		"code":    st.Code().String(),
		"message": st.Message(),
	})
}
