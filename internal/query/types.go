package query

import (
	"encoding/json"
	"time"
)

// EnvelopeView is an audit envelope as served by the query API.
type EnvelopeView struct {
	Sequence   int64           `json:"sequence"`
	IntentKey  string          `json:"intent_key"`
	RecordType string          `json:"record_type"`
	Payload    json.RawMessage `json:"payload"`
	StateHash  string          `json:"state_hash"`
	PrevHash   string          `json:"prev_hash"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// IntentView is an applied intent from lyrae.intents.
type IntentView struct {
	IntentType    string    `json:"intent_type"`
	IntentKey     string    `json:"intent_key"`
	FirstSequence *int64    `json:"first_sequence,omitempty"`
	EnvelopeCount int       `json:"envelope_count"`
	StateHash     string    `json:"state_hash"`
	AppliedAt     time.Time `json:"applied_at"`
}

// IntegrityReport is the result of walking the audit hash chain.
type IntegrityReport struct {
	Checked       int     `json:"checked"`
	FirstSequence int64   `json:"first_sequence"`
	LastSequence  int64   `json:"last_sequence"`
	ChainBreaks   []int64 `json:"chain_breaks,omitempty"`
	SequenceGaps  []int64 `json:"sequence_gaps,omitempty"`
	IsHealthy     bool    `json:"is_healthy"`
}
