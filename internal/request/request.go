// Package request defines the immutable value describing one generation
// request and its content-addressable fingerprint, which keys the result
// cache.
package request

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Request describes a single call to a text-generation provider.
// It is a value type and must not be mutated after construction:
// its fingerprint is derived from every field.
type Request struct {
	// Provider selects the backend, e.g. "openai", "anthropic", "gemini".
	Provider string

	// Model is the provider-specific model identifier.
	Model string

	// Prompt is the full prompt text sent to the model.
	Prompt string

	// Params holds generation options such as temperature, max_tokens
	// or top_p. Key order never affects the fingerprint.
	Params map[string]any
}

// Fingerprint is the hex form of a SHA-256 digest over a canonical
// serialization of a Request. Two semantically identical requests always
// produce the same Fingerprint; any field difference produces a different
// one.
type Fingerprint string

// canonical is the serialization shape hashed for the fingerprint.
// encoding/json marshals map keys in sorted order, so Params ordering
// cannot influence the digest.
type canonical struct {
	Prompt   string         `json:"prompt"`
	Model    string         `json:"model"`
	Provider string         `json:"provider"`
	Params   map[string]any `json:"params"`
}

// Fingerprint computes the request's content fingerprint. It never fails:
// every representable Request has a canonical JSON form.
func (r Request) Fingerprint() Fingerprint {
	data, err := json.Marshal(canonical{
		Prompt:   r.Prompt,
		Model:    r.Model,
		Provider: r.Provider,
		Params:   r.Params,
	})
	if err != nil {
		// Params values are scalars (strings, numbers, bools) by
		// contract; json.Marshal cannot fail for them. Guard anyway so
		// a misuse still yields a stable, distinct key.
		data = []byte(r.Provider + "\x00" + r.Model + "\x00" + r.Prompt)
	}

	sum := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(sum[:]))
}
