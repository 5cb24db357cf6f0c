package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/keymaster/pkg/engine"
	"github.com/Mindburn-Labs/keymaster/pkg/keys"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20 // 1MB

// Service exposes the engine over HTTP.
type Service struct {
	engine *engine.Engine
}

// NewService wraps an engine.
func NewService(e *engine.Engine) *Service {
	return &Service{engine: e}
}

// HandleHealth handles GET /health. 503 when the store ping fails.
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Ping(r.Context()); err != nil {
		WriteError(w, http.StatusServiceUnavailable, "unhealthy", "Redis connection failed")
		return
	}
	writeJSON(w, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339Nano),
	})
}

// ValidateKeyRequest is the body of POST /v1/validate-key.
type ValidateKeyRequest struct {
	APIKey string `json:"api_key"`
}

// ValidateKeyResponse is the success body of POST /v1/validate-key.
type ValidateKeyResponse struct {
	ProjectID string `json:"project_id"`
	KeyID     string `json:"key_id"`
	Owner     string `json:"owner"`
	Metadata  string `json:"metadata"`
}

// HandleValidateKey handles POST /v1/validate-key, the hot path.
func (s *Service) HandleValidateKey(w http.ResponseWriter, r *http.Request) {
	var req ValidateKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.APIKey == "" {
		WriteBadRequest(w, "Missing required field: api_key")
		return
	}

	doc, err := s.engine.Validate(r.Context(), req.APIKey)
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	writeJSON(w, ValidateKeyResponse{
		ProjectID: doc.ProjectID,
		KeyID:     doc.KeyID,
		Owner:     doc.Owner,
		Metadata:  doc.Metadata,
	})
}

// MintKeyRequest is the body of POST /v1/mint-key.
type MintKeyRequest struct {
	ProjectID string   `json:"project_id"`
	Owner     string   `json:"owner"`
	Metadata  string   `json:"metadata"`
	ExpiresAt *float64 `json:"expires_at,omitempty"`
}

// MintKeyResponse carries the full credential. This response is the only
// place the plaintext secret ever appears.
type MintKeyResponse struct {
	APIKey string `json:"api_key"`
}

// HandleMintKey handles POST /v1/mint-key (admin).
func (s *Service) HandleMintKey(w http.ResponseWriter, r *http.Request) {
	var req MintKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.ProjectID == "" || req.Owner == "" {
		WriteBadRequest(w, "Missing required fields: project_id, owner")
		return
	}

	apiKey, err := s.engine.MintKey(r.Context(), req.ProjectID, req.Owner, req.Metadata, req.ExpiresAt)
	if err != nil {
		WriteEngineError(w, err)
		return
	}
	writeJSON(w, MintKeyResponse{APIKey: apiKey})
}

// RevokeKeyRequest is the body of POST /v1/revoke-key.
type RevokeKeyRequest struct {
	ProjectID string `json:"project_id"`
	KeyID     string `json:"key_id"`
}

// RevokeKeyResponse acknowledges a revocation.
type RevokeKeyResponse struct {
	Revoked bool `json:"revoked"`
}

// HandleRevokeKey handles POST /v1/revoke-key (admin).
func (s *Service) HandleRevokeKey(w http.ResponseWriter, r *http.Request) {
	var req RevokeKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.ProjectID == "" || req.KeyID == "" {
		WriteBadRequest(w, "Missing required fields: project_id, key_id")
		return
	}

	if err := s.engine.RevokeKey(r.Context(), req.ProjectID, req.KeyID); err != nil {
		WriteEngineError(w, err)
		return
	}
	writeJSON(w, RevokeKeyResponse{Revoked: true})
}

// ListKeysResponse is the body of GET /v1/list-keys. Next is null on the
// last page.
type ListKeysResponse struct {
	Items []keys.KeyMetadata `json:"items"`
	Next  *string            `json:"next"`
}

// HandleListKeys handles GET /v1/list-keys (admin). limit is bounded to
// [1,100]; out-of-range values are a client error, not clamped silently.
func (s *Service) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		WriteBadRequest(w, "Missing required parameter: project_id")
		return
	}

	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		WriteBadRequest(w, "offset must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", engine.DefaultListLimit)
	if err != nil || limit < 1 || limit > engine.MaxListLimit {
		WriteBadRequest(w, "limit must be an integer in [1,100]")
		return
	}

	items, next, err := s.engine.ListKeys(r.Context(), projectID, offset, limit)
	if err != nil {
		WriteEngineError(w, err)
		return
	}
	if items == nil {
		items = []keys.KeyMetadata{}
	}

	resp := ListKeysResponse{Items: items}
	if next != "" {
		resp.Next = &next
	}
	writeJSON(w, resp)
}

// HandleCreateProject handles POST /v1/admin/create-project (admin).
// Parameters arrive as query values.
func (s *Service) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID, label, owner := q.Get("project_id"), q.Get("label"), q.Get("owner")
	if projectID == "" || label == "" || owner == "" {
		WriteBadRequest(w, "Missing required parameters: project_id, label, owner")
		return
	}

	doc, err := s.engine.CreateProject(r.Context(), projectID, label, owner)
	if err != nil {
		WriteEngineError(w, err)
		return
	}
	writeJSON(w, map[string]any{"project_id": doc.ProjectID, "created": true})
}

// HandleGetProject handles GET /v1/admin/project/{project_id} (admin).
func (s *Service) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	if projectID == "" {
		WriteBadRequest(w, "Missing project_id")
		return
	}

	doc, err := s.engine.GetProject(r.Context(), projectID)
	if err != nil {
		WriteEngineError(w, err)
		return
	}
	writeJSON(w, doc)
}

// HandleKeyUsage handles GET /v1/admin/key-usage (admin): the usage
// sidecar of one key.
func (s *Service) HandleKeyUsage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID, keyID := q.Get("project_id"), q.Get("key_id")
	if projectID == "" || keyID == "" {
		WriteBadRequest(w, "Missing required parameters: project_id, key_id")
		return
	}

	meta, err := s.engine.KeyUsage(r.Context(), projectID, keyID)
	if err != nil {
		WriteEngineError(w, err)
		return
	}
	writeJSON(w, meta)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
