// Package handlers implements the HTTP handlers for the idvault wallet
// daemon. All handlers are thin adapters over the wallet manager and
// the language-model gateway; typed wallet errors map to status codes
// in one place.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/idvault/idvault/internal/gateway"
	"github.com/idvault/idvault/internal/wallet"
	"github.com/idvault/idvault/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Wallet *wallet.Wallet
	Assist *gateway.Assist
}

// New creates a Handlers instance.
func New(w *wallet.Wallet, a *gateway.Assist) *Handlers {
	return &Handlers{Wallet: w, Assist: a}
}

// ── Identity ─────────────────────────────────────────────────

func (h *Handlers) GenerateIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := h.Wallet.GenerateIdentity()
	if err != nil {
		respondWalletError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, id)
}

// identityView is the dashboard snapshot: identity, profile, agents.
type identityView struct {
	Identity models.Identity `json:"identity"`
	Profile  *models.Profile `json:"profile,omitempty"`
	Agents   []models.Agent  `json:"agents"`
}

func (h *Handlers) GetIdentity(w http.ResponseWriter, r *http.Request) {
	id, profile, agents := h.Wallet.Current()
	if id.DID == "" {
		respondError(w, http.StatusNotFound, "no identity generated yet")
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	respondJSON(w, http.StatusOK, identityView{Identity: id, Profile: profile, Agents: agents})
}

func (h *Handlers) ExportIdentity(w http.ResponseWriter, r *http.Request) {
	data, err := h.Wallet.Export()
	if err != nil {
		respondWalletError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="idvault-export.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handlers) ImportIdentity(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	if err := h.Wallet.Import(data); err != nil {
		respondWalletError(w, err)
		return
	}
	id, profile, agents := h.Wallet.Current()
	if agents == nil {
		agents = []models.Agent{}
	}
	respondJSON(w, http.StatusOK, identityView{Identity: id, Profile: profile, Agents: agents})
}

// ── Profile ──────────────────────────────────────────────────

func (h *Handlers) SaveProfile(w http.ResponseWriter, r *http.Request) {
	var in models.Profile
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	saved, err := h.Wallet.SaveProfile(in)
	if err != nil {
		respondWalletError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}

func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	_, profile, _ := h.Wallet.Current()
	if profile == nil {
		respondError(w, http.StatusNotFound, "no profile saved yet")
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// ── Lookup ───────────────────────────────────────────────────

func (h *Handlers) Resolve(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	resolved, err := h.Wallet.LoadProfile(did)
	if err != nil {
		respondWalletError(w, err)
		return
	}
	if resolved == nil {
		respondError(w, http.StatusNotFound, "no profile found for this DID")
		return
	}
	respondJSON(w, http.StatusOK, resolved)
}

// ── Agents ───────────────────────────────────────────────────

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.Wallet.Agents()
	if agents == nil {
		agents = []models.Agent{}
	}
	respondJSON(w, http.StatusOK, agents)
}

func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var in wallet.AgentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	agent, err := h.Wallet.RegisterAgent(in)
	if err != nil {
		respondWalletError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, agent)
}

func (h *Handlers) AgentChat(w http.ResponseWriter, r *http.Request) {
	agentDID := chi.URLParam(r, "did")
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}
	agent, err := h.Wallet.Agent(agentDID)
	if err != nil {
		respondWalletError(w, err)
		return
	}
	reply, err := h.Assist.ChatReply(r.Context(), agent, req.Message)
	if err != nil {
		respondWalletError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"agent": agent.DID, "reply": reply})
}

// ── Handshakes ───────────────────────────────────────────────

func (h *Handlers) InitiateHandshake(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SenderDID   string `json:"senderDid"`
		ReceiverDID string `json:"receiverDid"`
		Scope       string `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SenderDID == "" {
		// Local wallet convenience: default the sender to the active identity.
		req.SenderDID = h.Wallet.DID()
	}
	hs, err := h.Wallet.InitiateHandshake(req.SenderDID, req.ReceiverDID, req.Scope)
	if err != nil {
		respondWalletError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, hs)
}

func (h *Handlers) PendingHandshakes(w http.ResponseWriter, r *http.Request) {
	list, err := h.Wallet.PendingHandshakes()
	if err != nil {
		respondWalletError(w, err)
		return
	}
	if list == nil {
		list = []models.Handshake{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) AcceptedHandshakes(w http.ResponseWriter, r *http.Request) {
	list, err := h.Wallet.AcceptedHandshakes()
	if err != nil {
		respondWalletError(w, err)
		return
	}
	if list == nil {
		list = []models.Handshake{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) AcceptHandshake(w http.ResponseWriter, r *http.Request) {
	hs, err := h.Wallet.AcceptHandshake(chi.URLParam(r, "id"))
	if err != nil {
		respondWalletError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, hs)
}

func (h *Handlers) RejectHandshake(w http.ResponseWriter, r *http.Request) {
	hs, err := h.Wallet.RejectHandshake(chi.URLParam(r, "id"))
	if err != nil {
		respondWalletError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, hs)
}

// ── AI helpers ───────────────────────────────────────────────

func (h *Handlers) GenerateAvatar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
		Style  string `json:"style,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		respondError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	avatarURL, err := h.Assist.AvatarURL(r.Context(), req.Prompt, req.Style)
	if err != nil {
		respondWalletError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"avatarUrl": avatarURL})
}

func (h *Handlers) SuggestCapabilities(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	caps := h.Assist.SuggestCapabilities(r.Context(), req.Name, req.Description)
	respondJSON(w, http.StatusOK, map[string][]string{"capabilities": caps})
}

// ── Helpers ──────────────────────────────────────────────────

// respondWalletError maps typed wallet/gateway errors to status codes.
func respondWalletError(w http.ResponseWriter, err error) {
	var ve *wallet.ValidationError
	var nf *wallet.ErrNotFound
	var ge *gateway.Error

	switch {
	case errors.As(err, &ve):
		respondError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, wallet.ErrNoIdentity):
		respondError(w, http.StatusConflict, "no active identity; generate or import one first")
	case errors.As(err, &nf):
		respondError(w, http.StatusNotFound, nf.Error())
	case errors.As(err, &ge):
		respondError(w, http.StatusBadGateway, ge.Error())
	default:
		log.Error().Err(err).Msg("Unhandled wallet error")
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
