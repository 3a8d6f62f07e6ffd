package server

import (
	"ExchangeLedger/internal/core"
	"ExchangeLedger/internal/ledger"
	"ExchangeLedger/internal/signing"
	"ExchangeLedger/internal/state"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"google.golang.org/grpc"
)

const ServiceName = "exchangeledger.v1.Exchange"

// Method names. They are also the method string callers sign.
const (
	MethodDeposit            = "Deposit"
	MethodWithdraw           = "Withdraw"
	MethodSubmitTransactions = "SubmitTransactions"
	MethodInitialize         = "Initialize"
	MethodSetSubmitter       = "SetSubmitter"
	MethodTransferOwnership  = "TransferOwnership"
	MethodRenounceOwnership  = "RenounceOwnership"
	MethodUpgrade            = "Upgrade"
	MethodGetBalance         = "GetBalance"
	MethodGetNonce           = "GetNonce"
	MethodGetInfo            = "GetInfo"
)

// publicMethods are served without a request signature.
var publicMethods = map[string]bool{
	MethodGetBalance: true,
	MethodGetNonce:   true,
	MethodGetInfo:    true,
}

// ExchangeServer is the server API of exchangeledger.v1.Exchange.
type ExchangeServer interface {
	Deposit(context.Context, *DepositRequest) (*TransferResponse, error)
	Withdraw(context.Context, *WithdrawRequest) (*TransferResponse, error)
	SubmitTransactions(context.Context, *SubmitTransactionsRequest) (*SubmitTransactionsResponse, error)
	Initialize(context.Context, *InitializeRequest) (*Empty, error)
	SetSubmitter(context.Context, *SetSubmitterRequest) (*Empty, error)
	TransferOwnership(context.Context, *TransferOwnershipRequest) (*Empty, error)
	RenounceOwnership(context.Context, *RenounceOwnershipRequest) (*Empty, error)
	Upgrade(context.Context, *UpgradeRequest) (*Empty, error)
	GetBalance(context.Context, *GetBalanceRequest) (*BalanceResponse, error)
	GetNonce(context.Context, *GetNonceRequest) (*NonceResponse, error)
	GetInfo(context.Context, *GetInfoRequest) (*InfoResponse, error)
}

// Exchange_ServiceDesc describes exchangeledger.v1.Exchange for
// grpc.Server.RegisterService.
var Exchange_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodDeposit, Handler: unaryHandler(MethodDeposit, ExchangeServer.Deposit)},
		{MethodName: MethodWithdraw, Handler: unaryHandler(MethodWithdraw, ExchangeServer.Withdraw)},
		{MethodName: MethodSubmitTransactions, Handler: unaryHandler(MethodSubmitTransactions, ExchangeServer.SubmitTransactions)},
		{MethodName: MethodInitialize, Handler: unaryHandler(MethodInitialize, ExchangeServer.Initialize)},
		{MethodName: MethodSetSubmitter, Handler: unaryHandler(MethodSetSubmitter, ExchangeServer.SetSubmitter)},
		{MethodName: MethodTransferOwnership, Handler: unaryHandler(MethodTransferOwnership, ExchangeServer.TransferOwnership)},
		{MethodName: MethodRenounceOwnership, Handler: unaryHandler(MethodRenounceOwnership, ExchangeServer.RenounceOwnership)},
		{MethodName: MethodUpgrade, Handler: unaryHandler(MethodUpgrade, ExchangeServer.Upgrade)},
		{MethodName: MethodGetBalance, Handler: unaryHandler(MethodGetBalance, ExchangeServer.GetBalance)},
		{MethodName: MethodGetNonce, Handler: unaryHandler(MethodGetNonce, ExchangeServer.GetNonce)},
		{MethodName: MethodGetInfo, Handler: unaryHandler(MethodGetInfo, ExchangeServer.GetInfo)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "exchangeledger/v1/exchange.proto",
}

// RegisterExchangeServer registers srv on s.
func RegisterExchangeServer(s grpc.ServiceRegistrar, srv ExchangeServer) {
	s.RegisterService(&Exchange_ServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// unaryHandler adapts a typed ExchangeServer method to grpc.MethodHandler.
func unaryHandler[Req, Resp any](method string, call func(ExchangeServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ExchangeServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ExchangeServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// exchangeService serves ExchangeServer from the in-process ledger. The
// authenticated caller comes from the request context.
type exchangeService struct {
	ex *core.Exchange
}

func (s *exchangeService) Deposit(ctx context.Context, req *DepositRequest) (*TransferResponse, error) {
	id, asset, amount, err := parseTransfer(req.RequestID, req.Asset, req.Amount)
	if err != nil {
		return nil, err
	}
	res, err := s.ex.SubmitDeposit(ctx, id, CallerFrom(ctx), asset, amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return transferResponse(res), nil
}

func (s *exchangeService) Withdraw(ctx context.Context, req *WithdrawRequest) (*TransferResponse, error) {
	id, asset, amount, err := parseTransfer(req.RequestID, req.Asset, req.Amount)
	if err != nil {
		return nil, err
	}
	res, err := s.ex.SubmitWithdraw(ctx, id, CallerFrom(ctx), asset, amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return transferResponse(res), nil
}

// parseTransfer validates a deposit or withdraw request. The returned error
// is already a status.
func parseTransfer(requestID, assetArg, amountArg string) (uuid.UUID, common.Address, *uint256.Int, error) {
	id, err := uuid.Parse(requestID)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, common.Address{}, nil, invalidArgument("request_id %q: must be a non-nil uuid", requestID)
	}
	asset, err := ledger.ParseAsset(assetArg)
	if err != nil {
		return uuid.Nil, common.Address{}, nil, toStatus(err)
	}
	amount, err := parseAmount(amountArg)
	if err != nil {
		return uuid.Nil, common.Address{}, nil, toStatus(err)
	}
	return id, asset, amount, nil
}

func transferResponse(res core.TransferResult) *TransferResponse {
	resp := &TransferResponse{RequestID: res.RequestID.String(), Duplicate: res.Duplicate}
	if res.Amount != nil {
		resp.Amount = res.Amount.Dec()
	}
	return resp
}

func (s *exchangeService) SubmitTransactions(ctx context.Context, req *SubmitTransactionsRequest) (*SubmitTransactionsResponse, error) {
	var batchID uuid.UUID
	if req.BatchID != "" {
		id, err := uuid.Parse(req.BatchID)
		if err != nil {
			return nil, invalidArgument("batch_id: %v", err)
		}
		batchID = id
	}
	items := make([][]byte, len(req.Transactions))
	for i, tx := range req.Transactions {
		items[i] = tx
	}
	res, err := s.ex.SubmitTransactions(ctx, CallerFrom(ctx), batchID, items)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SubmitTransactionsResponse{
		BatchID:        res.BatchID.String(),
		Count:          res.Count,
		ProcessedCount: res.ProcessedCount,
		Duplicate:      res.Duplicate,
	}, nil
}

func (s *exchangeService) Initialize(ctx context.Context, req *InitializeRequest) (*Empty, error) {
	submitter, err := ledger.ParseAccount(req.Submitter)
	if err != nil {
		return nil, toStatus(err)
	}
	return empty(s.ex.Initialize(ctx, CallerFrom(ctx), submitter))
}

func (s *exchangeService) SetSubmitter(ctx context.Context, req *SetSubmitterRequest) (*Empty, error) {
	submitter, err := ledger.ParseAccount(req.Submitter)
	if err != nil {
		return nil, toStatus(err)
	}
	return empty(s.ex.SetSubmitter(ctx, CallerFrom(ctx), submitter))
}

func (s *exchangeService) TransferOwnership(ctx context.Context, req *TransferOwnershipRequest) (*Empty, error) {
	owner, err := ledger.ParseAccount(req.NewOwner)
	if err != nil {
		return nil, toStatus(err)
	}
	return empty(s.ex.TransferOwnership(ctx, CallerFrom(ctx), owner))
}

func (s *exchangeService) RenounceOwnership(ctx context.Context, _ *RenounceOwnershipRequest) (*Empty, error) {
	return empty(s.ex.RenounceOwnership(ctx, CallerFrom(ctx)))
}

func (s *exchangeService) Upgrade(ctx context.Context, req *UpgradeRequest) (*Empty, error) {
	return empty(s.ex.Upgrade(ctx, CallerFrom(ctx), req.Implementation, req.InitData))
}

func (s *exchangeService) GetBalance(_ context.Context, req *GetBalanceRequest) (*BalanceResponse, error) {
	account, err := ledger.ParseAccount(req.Account)
	if err != nil {
		return nil, toStatus(err)
	}
	asset, err := ledger.ParseAsset(req.Asset)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BalanceResponse{
		Account: account.Hex(),
		Asset:   ledger.AssetName(asset),
		Balance: s.ex.BalanceOf(account, asset).Dec(),
	}, nil
}

func (s *exchangeService) GetNonce(_ context.Context, req *GetNonceRequest) (*NonceResponse, error) {
	account, err := ledger.ParseAccount(req.Account)
	if err != nil {
		return nil, toStatus(err)
	}
	return &NonceResponse{Account: account.Hex(), Nonce: s.ex.NonceOf(account)}, nil
}

func (s *exchangeService) GetInfo(context.Context, *GetInfoRequest) (*InfoResponse, error) {
	return infoResponse(s.ex), nil
}

func infoResponse(ex *core.Exchange) *InfoResponse {
	info := ex.Info()
	return &InfoResponse{
		Initialized:     info.Initialized,
		Owner:           info.Owner.Hex(),
		Submitter:       info.Submitter.Hex(),
		ProcessedCount:  info.ProcessedCount,
		Version:         state.FormatVersion(info.Version),
		Implementation:  info.Implementation,
		Implementations: ex.Implementations(),
		Domain:          domainOf(ex.Domain()),
		DomainSeparator: info.DomainSeparator.Hex(),
		LastSequence:    info.Sequence - 1,
		StateHash:       hexutil.Encode(info.StateHash[:]),
	}
}

func domainOf(d signing.Domain) Domain {
	return Domain{
		Name:              d.Name,
		Version:           d.Version,
		ChainID:           d.ChainID.String(),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

func parseAmount(s string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ledger.ErrInvalidAmount, s)
	}
	return amount, nil
}

func empty(err error) (*Empty, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}
