// Package signing implements the structured-data hashing and secp256k1
// signature checks that authorize withdrawals, plus the signed-request
// scheme used to authenticate transport callers.
package signing

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	DefaultDomainName    = "ChainRing Labs"
	DefaultDomainVersion = "0.0.1"
)

const domainTypeName = "EIP712Domain"

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// Domain scopes signatures to one ledger instance on one chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain returns a domain with the default name and version.
func NewDomain(chainID *big.Int, verifyingContract common.Address) Domain {
	return Domain{
		Name:              DefaultDomainName,
		Version:           DefaultDomainVersion,
		ChainID:           new(big.Int).Set(chainID),
		VerifyingContract: verifyingContract,
	}
}

// Validate rejects domains that cannot produce a stable separator.
func (d Domain) Validate() error {
	if d.Name == "" || d.Version == "" {
		return fmt.Errorf("domain name and version are required")
	}
	if d.ChainID == nil || d.ChainID.Sign() <= 0 {
		return fmt.Errorf("domain chain id must be positive")
	}
	return nil
}

func (d Domain) typed() apitypes.TypedDataDomain {
	chainID := new(big.Int)
	if d.ChainID != nil {
		chainID.Set(d.ChainID)
	}
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(chainID),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// Separator returns the EIP-712 domain separator.
func (d Domain) Separator() (common.Hash, error) {
	td := apitypes.TypedData{
		Types:  apitypes.Types{domainTypeName: domainFields},
		Domain: d.typed(),
	}
	h, err := td.HashStruct(domainTypeName, td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash domain: %w", err)
	}
	return common.BytesToHash(h), nil
}
