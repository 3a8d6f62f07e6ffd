package server

import (
	"ExchangeLedger/internal/signing"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client calls exchangeledger.v1.Exchange, signing every non-public call
// with its RequestSigner. A nil signer can only make public calls.
type Client struct {
	cc     grpc.ClientConnInterface
	signer *signing.RequestSigner
}

func NewClient(cc grpc.ClientConnInterface, signer *signing.RequestSigner) *Client {
	return &Client{cc: cc, signer: signer}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if !publicMethods[method] {
		if c.signer == nil {
			return fmt.Errorf("%s needs a signer", method)
		}
		body, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("encode %s: %w", method, err)
		}
		headers, err := c.signer.Headers(method, body)
		if err != nil {
			return err
		}
		kv := make([]string, 0, 2*len(headers))
		for k, v := range headers {
			kv = append(kv, k, v)
		}
		ctx = metadata.AppendToOutgoingContext(ctx, kv...)
	}
	return c.cc.Invoke(ctx, fullMethod(method), req, resp, grpc.CallContentSubtype(CodecName))
}

// Deposit fills in a fresh request id when req has none. Retrying with the
// same req reuses it, so a retry after a lost response cannot deposit twice.
func (c *Client) Deposit(ctx context.Context, req *DepositRequest) (*TransferResponse, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	resp := new(TransferResponse)
	return resp, c.invoke(ctx, MethodDeposit, req, resp)
}

// Withdraw fills in a request id the same way as Deposit.
func (c *Client) Withdraw(ctx context.Context, req *WithdrawRequest) (*TransferResponse, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	resp := new(TransferResponse)
	return resp, c.invoke(ctx, MethodWithdraw, req, resp)
}

func (c *Client) SubmitTransactions(ctx context.Context, req *SubmitTransactionsRequest) (*SubmitTransactionsResponse, error) {
	resp := new(SubmitTransactionsResponse)
	return resp, c.invoke(ctx, MethodSubmitTransactions, req, resp)
}

func (c *Client) Initialize(ctx context.Context, req *InitializeRequest) error {
	return c.invoke(ctx, MethodInitialize, req, &Empty{})
}

func (c *Client) SetSubmitter(ctx context.Context, req *SetSubmitterRequest) error {
	return c.invoke(ctx, MethodSetSubmitter, req, &Empty{})
}

func (c *Client) TransferOwnership(ctx context.Context, req *TransferOwnershipRequest) error {
	return c.invoke(ctx, MethodTransferOwnership, req, &Empty{})
}

func (c *Client) RenounceOwnership(ctx context.Context) error {
	return c.invoke(ctx, MethodRenounceOwnership, &RenounceOwnershipRequest{}, &Empty{})
}

func (c *Client) Upgrade(ctx context.Context, req *UpgradeRequest) error {
	return c.invoke(ctx, MethodUpgrade, req, &Empty{})
}

func (c *Client) GetBalance(ctx context.Context, req *GetBalanceRequest) (*BalanceResponse, error) {
	resp := new(BalanceResponse)
	return resp, c.invoke(ctx, MethodGetBalance, req, resp)
}

func (c *Client) GetNonce(ctx context.Context, req *GetNonceRequest) (*NonceResponse, error) {
	resp := new(NonceResponse)
	return resp, c.invoke(ctx, MethodGetNonce, req, resp)
}

func (c *Client) GetInfo(ctx context.Context) (*InfoResponse, error) {
	resp := new(InfoResponse)
	return resp, c.invoke(ctx, MethodGetInfo, &GetInfoRequest{}, resp)
}
