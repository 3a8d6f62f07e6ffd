package server_test

import (
	"ExchangeLedger/internal/core"
	"ExchangeLedger/internal/custody"
	"ExchangeLedger/internal/ledger"
	"ExchangeLedger/internal/observability"
	"ExchangeLedger/internal/query"
	"ExchangeLedger/internal/server"
	"ExchangeLedger/internal/signing"
	"ExchangeLedger/internal/testutil"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fixture struct {
	srv     *server.GRPCServer
	ex      *core.Exchange
	metrics *observability.Metrics
	conn    *grpc.ClientConn

	ownerKey *ecdsa.PrivateKey
	owner    *server.Client
	sub      *server.Client
	userKey  *ecdsa.PrivateKey
	user     *server.Client
	public   *server.Client
}

func newFixture(t *testing.T, deps server.ServerDeps) *fixture {
	t.Helper()
	ownerKey, _ := testutil.NewKey(t)
	subKey, _ := testutil.NewKey(t)
	userKey, userAddr := testutil.NewKey(t)

	m := custody.NewMemory(nil, zerolog.Nop())
	require.NoError(t, m.Fund(userAddr, ledger.NativeAsset, uint256.NewInt(1_000)))

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ex, err := core.NewExchange(core.Options{
		Domain:    testutil.TestDomain(),
		Custodian: m,
		Metrics:   metrics,
		Logger:    zerolog.Nop(),
	}, nil, nil)
	require.NoError(t, err)

	deps.Exchange = ex
	deps.Verifier = signing.NewRequestVerifier(time.Minute)
	deps.Metrics = metrics
	deps.Logger = zerolog.Nop()
	srv := server.NewGRPCServer("", "", &deps)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, lis)
	t.Cleanup(cancel)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	subSigner := signing.NewRequestSigner(subKey)
	f := &fixture{
		srv:      srv,
		ex:       ex,
		metrics:  metrics,
		conn:     conn,
		ownerKey: ownerKey,
		owner:    server.NewClient(conn, signing.NewRequestSigner(ownerKey)),
		sub:      server.NewClient(conn, subSigner),
		userKey:  userKey,
		user:     server.NewClient(conn, signing.NewRequestSigner(userKey)),
		public:   server.NewClient(conn, nil),
	}
	require.NoError(t, f.owner.Initialize(context.Background(), &server.InitializeRequest{
		Submitter: subSigner.Address().Hex(),
	}))
	return f
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, status.Code(err), "error: %v", err)
}

func TestGRPC_DepositThenBatchWithdrawal(t *testing.T) {
	f := newFixture(t, server.ServerDeps{})
	ctx := context.Background()

	_, err := f.user.Deposit(ctx, &server.DepositRequest{Asset: "native", Amount: "100"})
	require.NoError(t, err)

	item := testutil.NativeWithdrawalItem(t, f.ex.Domain(), f.userKey, 40, 0)
	res, err := f.sub.SubmitTransactions(ctx, &server.SubmitTransactionsRequest{
		BatchID:      "550e8400-e29b-41d4-a716-446655440000",
		Transactions: []hexutil.Bytes{item},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Count)
	assert.Equal(t, uint64(1), res.ProcessedCount)

	account := signing.NewRequestSigner(f.userKey).Address().Hex()
	bal, err := f.public.GetBalance(ctx, &server.GetBalanceRequest{Account: account, Asset: "native"})
	require.NoError(t, err)
	assert.Equal(t, "60", bal.Balance)

	nonce, err := f.public.GetNonce(ctx, &server.GetNonceRequest{Account: account})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce.Nonce)

	again, err := f.sub.SubmitTransactions(ctx, &server.SubmitTransactionsRequest{
		BatchID:      "550e8400-e29b-41d4-a716-446655440000",
		Transactions: []hexutil.Bytes{item},
	})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, uint64(1), again.ProcessedCount)
}

func TestGRPC_WithdrawAll(t *testing.T) {
	f := newFixture(t, server.ServerDeps{})
	ctx := context.Background()

	_, err := f.user.Deposit(ctx, &server.DepositRequest{Asset: "native", Amount: "25"})
	require.NoError(t, err)
	res, err := f.user.Withdraw(ctx, &server.WithdrawRequest{Asset: "native", Amount: "0"})
	require.NoError(t, err)
	assert.Equal(t, "25", res.Amount)
	assert.False(t, res.Duplicate)
}

func TestGRPC_RetriedTransfersApplyOnce(t *testing.T) {
	f := newFixture(t, server.ServerDeps{})
	ctx := context.Background()
	account := signing.NewRequestSigner(f.userKey).Address().Hex()

	dep := &server.DepositRequest{Asset: "native", Amount: "50"}
	first, err := f.user.Deposit(ctx, dep)
	require.NoError(t, err)
	require.NotEmpty(t, dep.RequestID)
	assert.Equal(t, "50", first.Amount)

	retry, err := f.user.Deposit(ctx, dep)
	require.NoError(t, err)
	assert.True(t, retry.Duplicate)
	assert.Equal(t, first.RequestID, retry.RequestID)

	wd := &server.WithdrawRequest{Asset: "native", Amount: "20"}
	_, err = f.user.Withdraw(ctx, wd)
	require.NoError(t, err)
	again, err := f.user.Withdraw(ctx, wd)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Empty(t, again.Amount)

	bal, err := f.public.GetBalance(ctx, &server.GetBalanceRequest{Account: account, Asset: "native"})
	require.NoError(t, err)
	assert.Equal(t, "30", bal.Balance)
}

func TestGRPC_ErrorCodes(t *testing.T) {
	f := newFixture(t, server.ServerDeps{})
	ctx := context.Background()

	_, err := f.user.Withdraw(ctx, &server.WithdrawRequest{Asset: "native", Amount: "5"})
	requireCode(t, err, codes.FailedPrecondition)
	assert.Contains(t, status.Convert(err).Message(), "InsufficientBalance")

	err = f.user.SetSubmitter(ctx, &server.SetSubmitterRequest{Submitter: "0x0000000000000000000000000000000000000b0b"})
	requireCode(t, err, codes.PermissionDenied)

	err = f.owner.Initialize(ctx, &server.InitializeRequest{Submitter: "0x0000000000000000000000000000000000000b0b"})
	requireCode(t, err, codes.FailedPrecondition)

	_, err = f.sub.SubmitTransactions(ctx, &server.SubmitTransactionsRequest{
		Transactions: []hexutil.Bytes{{0x07}},
	})
	requireCode(t, err, codes.InvalidArgument)
	assert.Contains(t, status.Convert(err).Message(), "InvalidTransactionType")

	_, err = f.user.Deposit(ctx, &server.DepositRequest{Asset: "native", Amount: "abc"})
	requireCode(t, err, codes.InvalidArgument)

	_, err = f.user.Deposit(ctx, &server.DepositRequest{RequestID: "nope", Asset: "native", Amount: "1"})
	requireCode(t, err, codes.InvalidArgument)
	assert.Contains(t, status.Convert(err).Message(), "request_id")
}

func TestGRPC_UnsignedCallIsDenied(t *testing.T) {
	f := newFixture(t, server.ServerDeps{})

	err := f.conn.Invoke(context.Background(), "/exchangeledger.v1.Exchange/Deposit",
		&server.DepositRequest{RequestID: "6ba7b810-9dad-11d1-80b4-00c04fd430c8", Asset: "native", Amount: "1"},
		&server.TransferResponse{},
		grpc.CallContentSubtype(server.CodecName))
	requireCode(t, err, codes.PermissionDenied)
	assert.Equal(t, float64(1), promtest.ToFloat64(
		f.metrics.RPCRequests.WithLabelValues("Deposit", codes.PermissionDenied.String())))
}

func TestGRPC_GetInfo(t *testing.T) {
	f := newFixture(t, server.ServerDeps{})

	info, err := f.public.GetInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Initialized)
	assert.Equal(t, signing.NewRequestSigner(f.ownerKey).Address().Hex(), info.Owner)
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, int64(2), info.LastSequence)

	d := testutil.TestDomain()
	assert.Equal(t, d.Name, info.Domain.Name)
	assert.Equal(t, d.Version, info.Domain.Version)
	assert.Equal(t, d.ChainID.String(), info.Domain.ChainID)
	assert.Equal(t, d.VerifyingContract.Hex(), info.Domain.VerifyingContract)
	sep, err := d.Separator()
	require.NoError(t, err)
	assert.Equal(t, sep.Hex(), info.DomainSeparator)
}

func TestGRPC_Health(t *testing.T) {
	f := newFixture(t, server.ServerDeps{})
	hc := healthpb.NewHealthClient(f.conn)

	resp, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	f.srv.SetServing(true)
	resp, err = hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestHTTP_InfoAndHealth(t *testing.T) {
	f := newFixture(t, server.ServerDeps{HealthChecker: observability.NewHealthChecker()})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/info")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info server.InfoResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.True(t, info.Initialized)

	ready, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	ready.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, ready.StatusCode)
}

func TestHTTP_ProjectedBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	f := newFixture(t, server.ServerDeps{QueryService: query.NewQueryService(db)})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	mock.ExpectQuery("SELECT last_sequence FROM projections.watermark").
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence"}).AddRow(int64(9)))
	mock.ExpectQuery("SELECT balance::text FROM projections.balances").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("70"))

	resp, err := http.Get(ts.URL + "/v1/accounts/0x0000000000000000000000000000000000000a11/balances/native")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var bal query.BalanceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bal))
	assert.Equal(t, "70", bal.Balance)
	assert.Equal(t, int64(9), bal.AsOfSequence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHTTP_BadAccountIsBadRequest(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	f := newFixture(t, server.ServerDeps{QueryService: query.NewQueryService(db)})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/accounts/bob/nonce")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func signedRequest(t *testing.T, key *ecdsa.PrivateKey, method, url, path string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url+path, nil)
	require.NoError(t, err)
	headers, err := signing.NewRequestSigner(key).Headers(method+" "+path, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestHTTP_AdminRequiresOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	f := newFixture(t, server.ServerDeps{QueryService: query.NewQueryService(db)})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	unsigned, err := http.Get(ts.URL + "/v1/admin/integrity")
	require.NoError(t, err)
	unsigned.Body.Close()
	assert.Equal(t, http.StatusForbidden, unsigned.StatusCode)

	resp, err := http.DefaultClient.Do(signedRequest(t, f.userKey, http.MethodGet, ts.URL, "/v1/admin/integrity"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	mock.ExpectQuery("SELECT e1.sequence").WillReturnRows(sqlmock.NewRows([]string{"sequence"}))
	mock.ExpectQuery("SELECT asset, SUM").WillReturnRows(sqlmock.NewRows([]string{"asset", "total"}))

	resp, err = http.DefaultClient.Do(signedRequest(t, f.ownerKey, http.MethodGet, ts.URL, "/v1/admin/integrity"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report query.IntegrityReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.True(t, report.IsHealthy)
	assert.Empty(t, report.CoreInvariant)
	require.NoError(t, mock.ExpectationsWereMet())
}
