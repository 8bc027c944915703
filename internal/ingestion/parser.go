package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"LyraeLedger/internal/intent"
)

// Message is the JSON wire form of an intent when the type does not travel
// in the subject, as on the HTTP surface.
type Message struct {
	Type   intent.Type     `json:"type"`
	Intent json.RawMessage `json:"intent"`
}

// ParseIntent decodes data as an intent of type typ. Unknown fields are
// rejected so that a misspelled field does not silently default to zero.
// Every intent must carry an id, its idempotency key.
func ParseIntent(typ intent.Type, data []byte) (intent.Intent, error) {
	in, err := intent.New(typ)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(in); err != nil {
		return nil, fmt.Errorf("parse %s: %w", typ, err)
	}
	if in.Key() == "" {
		return nil, fmt.Errorf("parse %s: missing id", typ)
	}
	return in, nil
}

// ParseMessage decodes a Message envelope and the intent inside it.
func ParseMessage(data []byte) (intent.Intent, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("parse message: missing type")
	}
	return ParseIntent(m.Type, m.Intent)
}

// TypeFromSubject returns the last token of subject, which names the intent
// type: "lyrae.intents.PlacePerpOrder" carries a PlacePerpOrder.
func TypeFromSubject(subject string) (intent.Type, error) {
	i := strings.LastIndexByte(subject, '.')
	if i < 0 || i == len(subject)-1 {
		return "", fmt.Errorf("subject %q does not name an intent type", subject)
	}
	return intent.Type(subject[i+1:]), nil
}
