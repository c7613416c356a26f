package query

// RecordResponse is one settlement record for API queries. Hashes are
// hex-encoded.
type RecordResponse struct {
	Sequence  int64  `json:"sequence"`
	EventType string `json:"event_type"`
	Tick      int64  `json:"tick"`
	Price     int64  `json:"price"`
	Payload   []byte `json:"payload"`
	StateHash string `json:"state_hash"`
	PrevHash  string `json:"prev_hash"`
	CreatedAt int64  `json:"created_at_us"`
}

// IntegrityReport is the result of a record-log integrity check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	LatestSequence  int64   `json:"latest_sequence"`
	RecordCount     int64   `json:"record_count"`
	SequenceGaps    []int64 `json:"sequence_gaps,omitempty"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
}
