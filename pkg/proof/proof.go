// Package proof implements the transmissible delegation proof format.
//
// A proof is a detached, self-describing claim about a delegation: it names
// the subject, grantee, capability set, and expiry as of issuance, and is
// signed by the issuing authority. Verification uses the proof only to locate
// the live delegation record; the live record is authoritative for the
// authorization decision itself. The signature binds the proof to its
// contents, so edited or truncated proofs fail to parse instead of being
// silently coerced.
//
// Wire form: base64url(JSON envelope{payload, sig}) where payload is the
// base64 JSON record and sig is the Ed25519 signature over the payload bytes.
// The encoding round-trips exactly and is safe to embed in a URL query
// parameter.
package proof

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evanrel/capshare/pkg/types"
)

// Version is the current proof record version.
const Version = 1

// Record is the structured content of a delegation proof.
type Record struct {
	Version      int                `json:"v"`
	SubjectID    string             `json:"subjectId"`
	Grantee      string             `json:"grantee"`
	Capabilities []types.Capability `json:"capabilities"`
	IssuedAt     int64              `json:"issuedAt"`
	ExpiresAt    int64              `json:"expiresAt"`
	Issuer       string             `json:"issuer"`
}

// NewRecord builds a proof record from a delegation and the issuing
// authority's DID.
func NewRecord(d types.Delegation, issuer string) Record {
	return Record{
		Version:      Version,
		SubjectID:    d.SubjectID,
		Grantee:      d.Grantee,
		Capabilities: d.Capabilities,
		IssuedAt:     d.IssuedAt.Unix(),
		ExpiresAt:    d.ExpiresAt.Unix(),
		Issuer:       issuer,
	}
}

// Expiration returns the record's claimed expiry as a time.
func (r Record) Expiration() time.Time {
	return time.Unix(r.ExpiresAt, 0).UTC()
}

type envelope struct {
	Payload string `json:"payload"`
	Sig     string `json:"sig"`
}

// Sign encodes and signs a record, returning the URL-safe proof string.
func Sign(r Record, key ed25519.PrivateKey) (string, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal proof record: %w", err)
	}

	env := envelope{
		Payload: base64.StdEncoding.EncodeToString(payload),
		Sig:     base64.StdEncoding.EncodeToString(ed25519.Sign(key, payload)),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal proof envelope: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Parse decodes a proof string and verifies its signature against the
// authority's public key. Any decoding or verification failure means the
// proof is malformed; callers must not distinguish tampering from truncation.
func Parse(encoded string, key ed25519.PublicKey) (Record, error) {
	var rec Record

	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return rec, fmt.Errorf("decode proof: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return rec, fmt.Errorf("parse proof envelope: %w", err)
	}

	payload, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return rec, fmt.Errorf("decode proof payload: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(env.Sig)
	if err != nil {
		return rec, fmt.Errorf("decode proof signature: %w", err)
	}

	if !ed25519.Verify(key, payload, sig) {
		return rec, fmt.Errorf("proof signature verification failed")
	}

	if err := json.Unmarshal(payload, &rec); err != nil {
		return rec, fmt.Errorf("parse proof record: %w", err)
	}

	if rec.Version != Version {
		return Record{}, fmt.Errorf("unsupported proof version %d", rec.Version)
	}
	if rec.SubjectID == "" || rec.Grantee == "" || rec.Issuer == "" {
		return Record{}, fmt.Errorf("proof record missing required fields")
	}
	if len(rec.Capabilities) == 0 {
		return Record{}, fmt.Errorf("proof record has no capabilities")
	}

	return rec, nil
}
