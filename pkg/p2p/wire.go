package p2p

import "encoding/json"

// Envelope is the gossip wire format. Payloads are JSON so peers written
// against the API DTOs can decode them directly.
type Envelope struct {
	Type string          `json:"type"` // "trade" | "settlement"
	Data json.RawMessage `json:"data"`
}

func encodeEnvelope(typ string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Data: data})
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(raw, &env)
	return env, err
}
