package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/idvault/idvault/internal/api"
	"github.com/idvault/idvault/internal/api/handlers"
	"github.com/idvault/idvault/internal/config"
	"github.com/idvault/idvault/internal/gateway"
	"github.com/idvault/idvault/internal/kv"
	"github.com/idvault/idvault/internal/wallet"
	"github.com/idvault/idvault/pkg/models"
)

type stubGenerator struct {
	reply string
	err   error
}

func (s *stubGenerator) Generate(context.Context, string) (string, error) {
	return s.reply, s.err
}

func (s *stubGenerator) GenerateStyled(context.Context, string, string) (string, error) {
	return s.reply, s.err
}

func newTestServer(t *testing.T) (*httptest.Server, *wallet.Wallet) {
	t.Helper()
	s := kv.NewMemory()
	t.Cleanup(func() { s.Close() })

	w := wallet.New(s)
	h := handlers.New(w, gateway.NewAssist(&stubGenerator{reply: "text, code"}))
	cfg := &config.Config{Version: "test"}

	srv := httptest.NewServer(api.NewRouter(cfg, h))
	t.Cleanup(srv.Close)
	return srv, w
}

func doJSON(t *testing.T, method, url string, body string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var rd *bytes.Reader
	if body == "" {
		rd = bytes.NewReader(nil)
	} else {
		rd = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var fields map[string]json.RawMessage
	json.NewDecoder(resp.Body).Decode(&fields)
	return resp, fields
}

func TestHealthAndVersion(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, fields := doJSON(t, "GET", srv.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health = %d", resp.StatusCode)
	}
	if string(fields["status"]) != `"healthy"` {
		t.Errorf("health status = %s", fields["status"])
	}

	resp, fields = doJSON(t, "GET", srv.URL+"/version", "")
	if resp.StatusCode != http.StatusOK || string(fields["version"]) != `"test"` {
		t.Errorf("GET /version = %d %s", resp.StatusCode, fields["version"])
	}
}

func TestIdentityLifecycleHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/v1"

	// No identity yet.
	resp, _ := doJSON(t, "GET", base+"/identity", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET /identity before generation = %d, want 404", resp.StatusCode)
	}

	resp, fields := doJSON(t, "POST", base+"/identity", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /identity = %d, want 201", resp.StatusCode)
	}
	var did string
	json.Unmarshal(fields["did"], &did)
	if !strings.HasPrefix(did, "did:key:z") {
		t.Fatalf("generated did = %q", did)
	}

	resp, fields = doJSON(t, "GET", base+"/identity", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /identity = %d", resp.StatusCode)
	}
	var idv struct {
		Identity models.Identity `json:"identity"`
	}
	raw, _ := json.Marshal(map[string]json.RawMessage{"identity": fields["identity"]})
	json.Unmarshal(raw, &idv)
	if idv.Identity.DID != did {
		t.Errorf("dashboard did = %q, want %q", idv.Identity.DID, did)
	}
}

func TestProfileHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/v1"

	// Saving without an identity conflicts.
	resp, _ := doJSON(t, "PUT", base+"/profile", `{"name":"Alice"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("PUT /profile without identity = %d, want 409", resp.StatusCode)
	}

	doJSON(t, "POST", base+"/identity", "")

	// Empty name is a validation failure.
	resp, _ = doJSON(t, "PUT", base+"/profile", `{"name":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("PUT /profile empty name = %d, want 400", resp.StatusCode)
	}

	resp, fields := doJSON(t, "PUT", base+"/profile", `{"name":"Alice","bio":"hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /profile = %d", resp.StatusCode)
	}
	if string(fields["name"]) != `"Alice"` {
		t.Errorf("saved name = %s", fields["name"])
	}

	resp, fields = doJSON(t, "GET", base+"/profile", "")
	if resp.StatusCode != http.StatusOK || string(fields["bio"]) != `"hi"` {
		t.Errorf("GET /profile = %d %s", resp.StatusCode, fields["bio"])
	}
}

func TestResolveHTTP(t *testing.T) {
	srv, w := newTestServer(t)
	base := srv.URL + "/api/v1"

	doJSON(t, "POST", base+"/identity", "")
	doJSON(t, "PUT", base+"/profile", `{"name":"Alice"}`)

	resp, fields := doJSON(t, "GET", base+"/resolve/"+w.DID(), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /resolve/{did} = %d", resp.StatusCode)
	}
	if string(fields["verified"]) != "true" {
		t.Errorf("verified = %s, want true", fields["verified"])
	}

	resp, _ = doJSON(t, "GET", base+"/resolve/did:key:zUnknown", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("resolving an unknown DID = %d, want 404", resp.StatusCode)
	}
}

func TestAgentHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/v1"
	doJSON(t, "POST", base+"/identity", "")

	resp, fields := doJSON(t, "POST", base+"/agents",
		`{"name":"helper","description":"answers questions","capabilities":["text","code"]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /agents = %d, want 201", resp.StatusCode)
	}
	var agentDID string
	json.Unmarshal(fields["did"], &agentDID)
	if !strings.HasPrefix(agentDID, "did:agent:") {
		t.Fatalf("agent did = %q", agentDID)
	}

	// Unknown capabilities only → 400.
	resp, _ = doJSON(t, "POST", base+"/agents", `{"name":"x","capabilities":["sorcery"]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST /agents with bogus capabilities = %d, want 400", resp.StatusCode)
	}

	// The agent DID resolves like any other.
	resp, _ = doJSON(t, "GET", base+"/resolve/"+agentDID, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /resolve/{agent did} = %d", resp.StatusCode)
	}

	// Chat with the agent through the stub model.
	resp, fields = doJSON(t, "POST", base+"/agents/"+agentDID+"/chat", `{"message":"hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /agents/{did}/chat = %d", resp.StatusCode)
	}
	if string(fields["reply"]) == "" {
		t.Error("chat reply is empty")
	}

	// Chat with an unknown agent → 404.
	resp, _ = doJSON(t, "POST", base+"/agents/did:agent:missing/chat", `{"message":"hi"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("chat with unknown agent = %d, want 404", resp.StatusCode)
	}
}

func TestHandshakeHTTP(t *testing.T) {
	srv, w := newTestServer(t)
	base := srv.URL + "/api/v1"
	doJSON(t, "POST", base+"/identity", "")

	resp, fields := doJSON(t, "POST", base+"/handshakes",
		`{"senderDid":"did:key:zAlice","receiverDid":"`+w.DID()+`","scope":"calendar"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /handshakes = %d, want 201", resp.StatusCode)
	}
	var id string
	json.Unmarshal(fields["id"], &id)

	resp, _ = doJSON(t, "GET", base+"/handshakes/pending", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /handshakes/pending = %d", resp.StatusCode)
	}

	resp, fields = doJSON(t, "POST", base+"/handshakes/"+id+"/accept", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /handshakes/{id}/accept = %d", resp.StatusCode)
	}
	if string(fields["status"]) != `"accepted"` {
		t.Errorf("status = %s, want accepted", fields["status"])
	}

	resp, _ = doJSON(t, "POST", base+"/handshakes/missing/accept", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("accepting an absent handshake = %d, want 404", resp.StatusCode)
	}

	// Missing scope → 400.
	resp, _ = doJSON(t, "POST", base+"/handshakes",
		`{"senderDid":"did:key:zA","receiverDid":"did:key:zB"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST /handshakes without scope = %d, want 400", resp.StatusCode)
	}
}

func TestAIEndpointsHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/v1"

	resp, fields := doJSON(t, "POST", base+"/ai/avatar", `{"prompt":"friendly fox"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /ai/avatar = %d", resp.StatusCode)
	}
	var avatarURL string
	json.Unmarshal(fields["avatarUrl"], &avatarURL)
	if !strings.HasPrefix(avatarURL, "https://api.dicebear.com/") {
		t.Errorf("avatarUrl = %q", avatarURL)
	}

	resp, fields = doJSON(t, "POST", base+"/ai/capabilities", `{"name":"helper"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /ai/capabilities = %d", resp.StatusCode)
	}
	var caps []string
	json.Unmarshal(fields["capabilities"], &caps)
	if len(caps) != 2 || caps[0] != "text" {
		t.Errorf("capabilities = %v, want the stub's [text code]", caps)
	}

	resp, _ = doJSON(t, "POST", base+"/ai/avatar", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST /ai/avatar without prompt = %d, want 400", resp.StatusCode)
	}
}

func TestGatewayFailureMapsToBadGateway(t *testing.T) {
	s := kv.NewMemory()
	t.Cleanup(func() { s.Close() })
	w := wallet.New(s)
	failing := &stubGenerator{err: &gateway.Error{Provider: "stub", Err: context.DeadlineExceeded}}
	h := handlers.New(w, gateway.NewAssist(failing))
	srv := httptest.NewServer(api.NewRouter(&config.Config{Version: "test"}, h))
	t.Cleanup(srv.Close)

	resp, _ := doJSON(t, "POST", srv.URL+"/api/v1/ai/avatar", `{"prompt":"x"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("avatar with failing provider = %d, want 502", resp.StatusCode)
	}
}
