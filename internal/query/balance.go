package query

// BalanceResponse is a holder's projected balance of one asset.
type BalanceResponse struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"` // decimal base units

	// Last event reflected in the projection tables
	AsOfSequence int64 `json:"as_of_sequence"`
}

// NonceResponse is the next withdrawal nonce a holder must sign.
type NonceResponse struct {
	Account      string `json:"account"`
	NextNonce    uint64 `json:"next_nonce"`
	AsOfSequence int64  `json:"as_of_sequence"`
}
