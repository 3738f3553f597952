// Package models defines the data model shared by the idvault wallet daemon:
// identities, profiles, registered agents, and handshake records, together
// with the capability vocabulary and DID display helpers.
package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ── Key material ─────────────────────────────────────────────

// KeyBytes is raw key material that serializes as a JSON array of byte
// values rather than base64. Wallet export bundles are read by non-Go
// tooling that expects plain number arrays; unmarshalling accepts both
// the array form and base64 strings.
type KeyBytes []byte

func (k KeyBytes) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(k))
	for i, b := range k {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}

func (k *KeyBytes) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err == nil {
		out := make([]byte, len(ints))
		for i, n := range ints {
			if n < 0 || n > 255 {
				return fmt.Errorf("models: byte value %d out of range", n)
			}
			out[i] = byte(n)
		}
		*k = out
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("models: key bytes must be a number array or base64 string")
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("models: decode key bytes: %w", err)
	}
	*k = raw
	return nil
}

// ── Identity ─────────────────────────────────────────────────

// Identity is the active wallet identity: a DID derived from the public
// key, plus the keypair itself. The private key never leaves the local
// store except through an explicit export.
type Identity struct {
	DID        string   `json:"did"`
	PublicKey  KeyBytes `json:"publicKey"`
	PrivateKey KeyBytes `json:"privateKey,omitempty"`
}

// ── Profile ──────────────────────────────────────────────────

// Profile is the user-supplied metadata attached 1:1 to a DID.
// Timestamp is refreshed on every save.
type Profile struct {
	Name      string    `json:"name"`
	Bio       string    `json:"bio,omitempty"`
	Email     string    `json:"email,omitempty"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Merge folds non-empty fields of in over p and returns the result.
// Precedence is field by field: a new non-empty value wins, otherwise
// the old value is retained. Timestamp is not merged; callers stamp it.
func (p Profile) Merge(in Profile) Profile {
	out := p
	if in.Name != "" {
		out.Name = in.Name
	}
	if in.Bio != "" {
		out.Bio = in.Bio
	}
	if in.Email != "" {
		out.Email = in.Email
	}
	if in.AvatarURL != "" {
		out.AvatarURL = in.AvatarURL
	}
	return out
}

// ResolvedProfile is the wrapper returned by DID lookups. Verified
// reports whether the stored profile document carried a valid signature
// from the DID's key. CID is a display-only content identifier, not a
// real content-addressed hash.
type ResolvedProfile struct {
	DID      string  `json:"did"`
	Profile  Profile `json:"profile"`
	Verified bool    `json:"verified"`
	CID      string  `json:"cid"`
}

// ── Capabilities ─────────────────────────────────────────────

// Capability vocabulary for registered agents.
const (
	CapabilityText      = "text"
	CapabilityImage     = "image"
	CapabilityData      = "data"
	CapabilityVoice     = "voice"
	CapabilityCode      = "code"
	CapabilityTranslate = "translate"
)

// Capabilities lists the full controlled vocabulary.
var Capabilities = []string{
	CapabilityText,
	CapabilityImage,
	CapabilityData,
	CapabilityVoice,
	CapabilityCode,
	CapabilityTranslate,
}

// IsCapability reports whether s is in the controlled vocabulary.
func IsCapability(s string) bool {
	for _, c := range Capabilities {
		if c == s {
			return true
		}
	}
	return false
}

// FilterCapabilities normalises a candidate list: lowercased, trimmed,
// deduplicated, restricted to the vocabulary, original order preserved.
func FilterCapabilities(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range in {
		c = strings.ToLower(strings.TrimSpace(c))
		if !IsCapability(c) || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// ── Agent ────────────────────────────────────────────────────

// Agent is a secondary identity owned by a user DID: an AI capability
// bundle with its own DID in the did:agent namespace. Agents are
// append-only; OwnerDID and CreatedAt are immutable after registration.
type Agent struct {
	DID          string    `json:"did"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Capabilities []string  `json:"capabilities"`
	OwnerDID     string    `json:"ownerDid"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AgentDIDPrefix namespaces agent DIDs apart from user did:key DIDs.
const AgentDIDPrefix = "did:agent:"

// IsAgentDID reports whether did names an agent rather than a user.
func IsAgentDID(did string) bool {
	return strings.HasPrefix(did, AgentDIDPrefix)
}

// ── Handshake ────────────────────────────────────────────────

type HandshakeStatus string

const (
	HandshakePending  HandshakeStatus = "pending"
	HandshakeAccepted HandshakeStatus = "accepted"
	HandshakeRejected HandshakeStatus = "rejected"
)

// Terminal reports whether no further transitions are allowed.
func (s HandshakeStatus) Terminal() bool {
	return s == HandshakeAccepted || s == HandshakeRejected
}

// Handshake is a connection/authorization request between two DIDs.
// It is created pending and moves exactly once to accepted or rejected.
type Handshake struct {
	ID          string          `json:"id"`
	SenderDID   string          `json:"senderDid"`
	ReceiverDID string          `json:"receiverDid"`
	Scope       string          `json:"scope"`
	Status      HandshakeStatus `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// KnownScopes are the suggested handshake scopes; free text is also
// accepted by the wallet.
var KnownScopes = []string{
	"calendar",
	"contacts",
	"documents",
	"media",
	"analytics",
}

// ── Export bundle ────────────────────────────────────────────

// ExportBundle is the single JSON document produced by an identity
// export. Keys are included in plaintext — export is an explicit,
// user-initiated action.
type ExportBundle struct {
	DID        string   `json:"did"`
	PrivateKey KeyBytes `json:"privateKey"`
	PublicKey  KeyBytes `json:"publicKey"`
	Profile    *Profile `json:"profile,omitempty"`
	Agents     []Agent  `json:"agents,omitempty"`
}

// ── Display helpers ──────────────────────────────────────────

// FormatDID shortens a DID for display: first 15 and last 8 characters.
func FormatDID(did string) string {
	if len(did) <= 23 {
		return did
	}
	return did[:15] + "..." + did[len(did)-8:]
}
