package query

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// HistoryPage is one page of journal history, newest first. NextCursor is
// passed back as afterSequence to fetch the following page.
type HistoryPage struct {
	Entries      []JournalHistoryEntry `json:"entries"`
	NextCursor   *int64                `json:"next_cursor,omitempty"`
	AsOfSequence int64                 `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	// CoreInvariant is set when the live ledger fails its own conservation
	// check.
	CoreInvariant string `json:"core_invariant,omitempty"`
}

// UnbalancedAsset represents an asset whose projected balances do not sum
// to zero.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance string `json:"imbalance"`
}
