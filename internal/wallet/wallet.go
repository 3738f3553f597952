// Package wallet implements the identity/profile/agent state manager at
// the core of idvault. It owns the active DID, its profile and
// registered agents, and drives handshake state transitions, persisting
// every mutation through the kv store.
//
// All validation and not-found conditions are typed return values, so
// callers can branch without panics; store unavailability is absorbed
// by the kv layer and never aborts an operation.
package wallet

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"

	"github.com/idvault/idvault/internal/keys"
	"github.com/idvault/idvault/internal/kv"
	"github.com/idvault/idvault/pkg/models"
)

// Reserved key families in the kv store.
const (
	keyDID        = "did"
	keyPrivateKey = "privateKey"
	keyPublicKey  = "publicKey"

	prefixProfile   = "profile-"
	prefixAgent     = "agent-"
	prefixHandshake = "handshake-"
)

// profileRecord is the persisted shape of a profile: the document plus
// the owner's signature over its canonical JSON encoding.
type profileRecord struct {
	Profile   models.Profile  `json:"profile"`
	Signature models.KeyBytes `json:"signature,omitempty"`
}

// Wallet is the single-identity state manager. One DID slot at a time;
// regenerating or importing replaces the active identity wholesale.
type Wallet struct {
	mu       sync.Mutex
	store    kv.Store
	provider keys.Provider
	verifier keys.Verifier

	// clearOnRegenerate controls whether GenerateIdentity drops the
	// in-memory profile and agent list or carries the profile over to
	// the new DID. Default true.
	clearOnRegenerate bool

	did     string
	keypair keys.Keypair
	profile *models.Profile
	agents  []models.Agent
}

// Option configures a Wallet.
type Option func(*Wallet)

// WithKeyProvider substitutes the keypair generation scheme.
func WithKeyProvider(p keys.Provider) Option {
	return func(w *Wallet) { w.provider = p }
}

// WithVerifier substitutes the profile signature verifier.
func WithVerifier(v keys.Verifier) Option {
	return func(w *Wallet) { w.verifier = v }
}

// WithClearOnRegenerate sets the regeneration policy.
func WithClearOnRegenerate(clear bool) Option {
	return func(w *Wallet) { w.clearOnRegenerate = clear }
}

// New creates a Wallet over the given store and restores any persisted
// identity, profile, and agents.
func New(store kv.Store, opts ...Option) *Wallet {
	w := &Wallet{
		store:             store,
		provider:          keys.Ed25519Provider{},
		verifier:          keys.Ed25519Verifier{},
		clearOnRegenerate: true,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.restore()
	return w
}

// restore loads the active identity and its profile/agents from the store.
func (w *Wallet) restore() {
	var did string
	var priv, pub models.KeyBytes
	if !w.store.GetInto(keyDID, &did) ||
		!w.store.GetInto(keyPrivateKey, &priv) ||
		!w.store.GetInto(keyPublicKey, &pub) {
		return
	}

	w.did = did
	w.keypair = keys.Keypair{Public: []byte(pub), Private: []byte(priv)}

	var rec profileRecord
	if w.store.GetInto(prefixProfile+did, &rec) {
		p := rec.Profile
		w.profile = &p
	}

	for _, e := range w.store.GetByPrefix(prefixAgent) {
		var a models.Agent
		if err := json.Unmarshal(e.Value, &a); err != nil {
			continue
		}
		if a.OwnerDID == did {
			w.agents = append(w.agents, a)
		}
	}

	log.Info().Str("did", models.FormatDID(did)).Int("agents", len(w.agents)).Msg("Identity restored")
}

// ── Identity ─────────────────────────────────────────────────

// GenerateIdentity creates a fresh keypair, derives its DID, and makes
// it the active identity. The replacement is irreversible; the previous
// identity's keys are overwritten in the store. Depending on the
// configured policy, the current profile and agent list are cleared or
// the profile is carried over to the new DID.
func (w *Wallet) GenerateIdentity() (models.Identity, error) {
	kp, err := w.provider.GenerateKeypair()
	if err != nil {
		return models.Identity{}, err
	}
	did, err := keys.DIDFromPublicKey(kp.Public)
	if err != nil {
		return models.Identity{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	oldDID := w.did
	w.did = did
	w.keypair = kp

	w.store.Set(keyDID, did)
	w.store.Set(keyPrivateKey, models.KeyBytes(kp.Private))
	w.store.Set(keyPublicKey, models.KeyBytes(kp.Public))

	if w.clearOnRegenerate {
		w.profile = nil
		w.agents = nil
		if oldDID != "" {
			w.store.Remove(prefixProfile + oldDID)
		}
	} else if w.profile != nil {
		// Carry the profile over to the new DID, re-signed.
		w.persistProfileLocked(*w.profile)
	}

	log.Info().Str("did", models.FormatDID(did)).Msg("Identity generated")
	return models.Identity{DID: did, PublicKey: models.KeyBytes(kp.Public)}, nil
}

// DID returns the active DID, or "" if none.
func (w *Wallet) DID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.did
}

// Current returns a snapshot of the active identity state for display:
// DID and public key only, plus profile and agents.
func (w *Wallet) Current() (models.Identity, *models.Profile, []models.Agent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := models.Identity{DID: w.did, PublicKey: models.KeyBytes(w.keypair.Public)}
	var p *models.Profile
	if w.profile != nil {
		cp := *w.profile
		p = &cp
	}
	agents := make([]models.Agent, len(w.agents))
	copy(agents, w.agents)
	return id, p, agents
}

// ── Profile ──────────────────────────────────────────────────

// SaveProfile merges in over the current profile (new non-empty field
// wins), stamps the timestamp, signs the document, and persists it
// under the active DID.
func (w *Wallet) SaveProfile(in models.Profile) (models.Profile, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.did == "" {
		return models.Profile{}, ErrNoIdentity
	}
	if strings.TrimSpace(in.Name) == "" {
		return models.Profile{}, &ValidationError{Field: "name"}
	}

	base := models.Profile{}
	if w.profile != nil {
		base = *w.profile
	}
	merged := base.Merge(in)
	merged.Timestamp = time.Now().UTC()

	w.persistProfileLocked(merged)
	w.profile = &merged

	log.Info().Str("did", models.FormatDID(w.did)).Str("name", merged.Name).Msg("Profile saved")
	return merged, nil
}

// persistProfileLocked writes the signed profile record for w.did.
// Caller holds w.mu.
func (w *Wallet) persistProfileLocked(p models.Profile) {
	doc, err := json.Marshal(p)
	if err != nil {
		log.Warn().Err(err).Msg("Profile not serializable, not persisted")
		return
	}
	rec := profileRecord{Profile: p}
	if len(w.keypair.Private) > 0 {
		rec.Signature = keys.Sign(w.keypair.Private, doc)
	}
	w.store.Set(prefixProfile+w.did, rec)
}

// LoadProfile resolves any DID to a profile view. User DIDs resolve to
// their stored signed profile; did:agent DIDs resolve to a view
// synthesized from the agent record. A miss is (nil, nil), not an error.
func (w *Wallet) LoadProfile(targetDID string) (*models.ResolvedProfile, error) {
	targetDID = strings.TrimSpace(targetDID)
	if targetDID == "" {
		return nil, &ValidationError{Field: "did"}
	}

	if models.IsAgentDID(targetDID) {
		return w.resolveAgent(targetDID), nil
	}

	var rec profileRecord
	if w.store.GetInto(prefixProfile+targetDID, &rec) {
		doc, _ := json.Marshal(rec.Profile)
		return &models.ResolvedProfile{
			DID:      targetDID,
			Profile:  rec.Profile,
			Verified: w.verifier.Verify(targetDID, doc, rec.Signature),
			CID:      cosmeticCID(doc),
		}, nil
	}

	// Self fast path for a store that lost its record (degraded mode
	// during this session): serve the cached copy.
	w.mu.Lock()
	defer w.mu.Unlock()
	if targetDID == w.did && w.profile != nil {
		doc, _ := json.Marshal(*w.profile)
		return &models.ResolvedProfile{
			DID:      targetDID,
			Profile:  *w.profile,
			Verified: true,
			CID:      cosmeticCID(doc),
		}, nil
	}
	return nil, nil
}

// resolveAgent synthesizes a profile-like view from an agent record.
func (w *Wallet) resolveAgent(agentDID string) *models.ResolvedProfile {
	var a models.Agent
	if !w.store.GetInto(prefixAgent+agentDID, &a) {
		return nil
	}

	bio := a.Description
	if len(a.Capabilities) > 0 {
		caps := "Capabilities: " + strings.Join(a.Capabilities, ", ")
		if bio == "" {
			bio = caps
		} else {
			bio = bio + ". " + caps
		}
	}
	id := strings.TrimPrefix(agentDID, models.AgentDIDPrefix)

	doc, _ := json.Marshal(a)
	return &models.ResolvedProfile{
		DID: agentDID,
		Profile: models.Profile{
			Name:      a.Name,
			Bio:       bio,
			Email:     id + "@agents.idvault.local",
			Timestamp: a.CreatedAt,
		},
		Verified: true,
		CID:      cosmeticCID(doc),
	}
}

// ── Agents ───────────────────────────────────────────────────

// AgentInput is the caller-supplied part of an agent registration.
type AgentInput struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities"`
}

// RegisterAgent creates a new agent DID owned by the active identity.
// The record is persisted in the globally scannable agent- namespace so
// lookups resolve it regardless of which identity is active.
func (w *Wallet) RegisterAgent(in AgentInput) (models.Agent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.did == "" {
		return models.Agent{}, ErrNoIdentity
	}
	if strings.TrimSpace(in.Name) == "" {
		return models.Agent{}, &ValidationError{Field: "name"}
	}
	caps := models.FilterCapabilities(in.Capabilities)
	if len(caps) == 0 {
		return models.Agent{}, &ValidationError{Field: "capabilities", Reason: "at least one capability from the vocabulary is required"}
	}

	agent := models.Agent{
		DID:          models.AgentDIDPrefix + uuid.NewString(),
		Name:         strings.TrimSpace(in.Name),
		Description:  strings.TrimSpace(in.Description),
		Capabilities: caps,
		OwnerDID:     w.did,
		CreatedAt:    time.Now().UTC(),
	}

	w.agents = append(w.agents, agent)
	w.store.Set(prefixAgent+agent.DID, agent)

	log.Info().Str("agent", agent.DID).Str("owner", models.FormatDID(w.did)).Msg("Agent registered")
	return agent, nil
}

// Agents returns the active identity's registered agents.
func (w *Wallet) Agents() []models.Agent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.Agent, len(w.agents))
	copy(out, w.agents)
	return out
}

// Agent returns a registered agent by DID from the global namespace.
func (w *Wallet) Agent(agentDID string) (models.Agent, error) {
	var a models.Agent
	if !w.store.GetInto(prefixAgent+agentDID, &a) {
		return models.Agent{}, &ErrNotFound{Entity: "agent", Key: agentDID}
	}
	return a, nil
}

// ── Handshakes ───────────────────────────────────────────────

// InitiateHandshake creates a pending connection request between two
// DIDs. The wallet does not authenticate that the caller controls
// senderDid; this is a local, single-user protocol.
func (w *Wallet) InitiateHandshake(senderDID, receiverDID, scope string) (models.Handshake, error) {
	switch {
	case strings.TrimSpace(senderDID) == "":
		return models.Handshake{}, &ValidationError{Field: "senderDid"}
	case strings.TrimSpace(receiverDID) == "":
		return models.Handshake{}, &ValidationError{Field: "receiverDid"}
	case strings.TrimSpace(scope) == "":
		return models.Handshake{}, &ValidationError{Field: "scope"}
	}

	h := models.Handshake{
		ID:          uuid.NewString(),
		SenderDID:   strings.TrimSpace(senderDID),
		ReceiverDID: strings.TrimSpace(receiverDID),
		Scope:       strings.TrimSpace(scope),
		Status:      models.HandshakePending,
		CreatedAt:   time.Now().UTC(),
	}
	w.store.Set(prefixHandshake+h.ID, h)

	log.Info().Str("id", h.ID).Str("scope", h.Scope).Msg("Handshake initiated")
	return h, nil
}

// AcceptHandshake transitions a pending handshake to accepted.
// Accepting an already-accepted handshake is a no-op; a rejected one
// cannot be revived.
func (w *Wallet) AcceptHandshake(id string) (models.Handshake, error) {
	return w.settleHandshake(id, models.HandshakeAccepted)
}

// RejectHandshake transitions a pending handshake to rejected,
// symmetric with AcceptHandshake.
func (w *Wallet) RejectHandshake(id string) (models.Handshake, error) {
	return w.settleHandshake(id, models.HandshakeRejected)
}

func (w *Wallet) settleHandshake(id string, status models.HandshakeStatus) (models.Handshake, error) {
	var h models.Handshake
	if !w.store.GetInto(prefixHandshake+id, &h) {
		return models.Handshake{}, &ErrNotFound{Entity: "handshake", Key: id}
	}
	if h.Status == status {
		return h, nil
	}
	if h.Status.Terminal() {
		return models.Handshake{}, fmt.Errorf("wallet: handshake %s already %s", id, h.Status)
	}
	h.Status = status
	w.store.Set(prefixHandshake+id, h)

	log.Info().Str("id", id).Str("status", string(status)).Msg("Handshake settled")
	return h, nil
}

// PendingHandshakes returns requests awaiting the active identity's
// decision: receiver is the active DID and status is pending.
func (w *Wallet) PendingHandshakes() ([]models.Handshake, error) {
	did := w.DID()
	if did == "" {
		return nil, ErrNoIdentity
	}
	return w.scanHandshakes(func(h models.Handshake) bool {
		return h.ReceiverDID == did && h.Status == models.HandshakePending
	}), nil
}

// AcceptedHandshakes returns the active identity's connections: either
// party is the active DID and status is accepted.
func (w *Wallet) AcceptedHandshakes() ([]models.Handshake, error) {
	did := w.DID()
	if did == "" {
		return nil, ErrNoIdentity
	}
	return w.scanHandshakes(func(h models.Handshake) bool {
		return (h.ReceiverDID == did || h.SenderDID == did) && h.Status == models.HandshakeAccepted
	}), nil
}

func (w *Wallet) scanHandshakes(keep func(models.Handshake) bool) []models.Handshake {
	var out []models.Handshake
	for _, e := range w.store.GetByPrefix(prefixHandshake) {
		var h models.Handshake
		if err := json.Unmarshal(e.Value, &h); err != nil {
			continue
		}
		if keep(h) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ── Export / import ──────────────────────────────────────────

// Export serializes the active identity, keys, profile, and agents
// into a single JSON bundle. The private key is included in plaintext;
// export is an explicit user action.
func (w *Wallet) Export() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.did == "" || len(w.keypair.Private) == 0 {
		return nil, ErrNoIdentity
	}
	bundle := models.ExportBundle{
		DID:        w.did,
		PrivateKey: models.KeyBytes(w.keypair.Private),
		PublicKey:  models.KeyBytes(w.keypair.Public),
		Profile:    w.profile,
		Agents:     w.agents,
	}
	return json.MarshalIndent(bundle, "", "  ")
}

// Import replaces the active identity with the contents of an export
// bundle. Failures are reported as values (ValidationError), never as
// panics, so callers can show a message and continue.
func (w *Wallet) Import(data []byte) error {
	var bundle models.ExportBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return &ValidationError{Field: "bundle", Reason: "not valid JSON"}
	}
	if bundle.DID == "" || len(bundle.PrivateKey) == 0 || len(bundle.PublicKey) == 0 {
		return &ValidationError{Field: "bundle", Reason: "did, privateKey and publicKey are required"}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.did = bundle.DID
	w.keypair = keys.Keypair{Public: []byte(bundle.PublicKey), Private: []byte(bundle.PrivateKey)}
	w.profile = bundle.Profile
	w.agents = bundle.Agents

	w.store.Set(keyDID, bundle.DID)
	w.store.Set(keyPrivateKey, bundle.PrivateKey)
	w.store.Set(keyPublicKey, bundle.PublicKey)
	if bundle.Profile != nil {
		w.persistProfileLocked(*bundle.Profile)
	}
	for _, a := range bundle.Agents {
		w.store.Set(prefixAgent+a.DID, a)
	}

	log.Info().Str("did", models.FormatDID(bundle.DID)).Int("agents", len(bundle.Agents)).Msg("Identity imported")
	return nil
}

// ── Content identifiers ──────────────────────────────────────

// cosmeticCID renders a CIDv0-shaped string over doc for display.
// It is not content-addressed storage; nothing dereferences it.
func cosmeticCID(doc []byte) string {
	sum := sha256.Sum256(doc)
	multihash := append([]byte{0x12, 0x20}, sum[:]...)
	return base58.Encode(multihash)
}
