package api

import (
	"net/http"

	"github.com/Mindburn-Labs/keymaster/pkg/auth"
)

// RouterConfig carries the middleware inputs of the HTTP surface.
type RouterConfig struct {
	AdminSecret string   // empty disables the admin endpoints
	CORSOrigins []string // empty allows all (development)
}

// NewRouter assembles the route table and the middleware chain. Every
// route except /health and /v1/validate-key sits behind the admin bearer
// gate.
func NewRouter(svc *Service, cfg RouterConfig) http.Handler {
	gate := auth.BearerGate(cfg.AdminSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", svc.HandleHealth)
	mux.HandleFunc("POST /v1/validate-key", svc.HandleValidateKey)

	mux.Handle("POST /v1/mint-key", gate(http.HandlerFunc(svc.HandleMintKey)))
	mux.Handle("POST /v1/revoke-key", gate(http.HandlerFunc(svc.HandleRevokeKey)))
	mux.Handle("GET /v1/list-keys", gate(http.HandlerFunc(svc.HandleListKeys)))
	mux.Handle("POST /v1/admin/create-project", gate(http.HandlerFunc(svc.HandleCreateProject)))
	mux.Handle("GET /v1/admin/project/{project_id}", gate(http.HandlerFunc(svc.HandleGetProject)))
	mux.Handle("GET /v1/admin/key-usage", gate(http.HandlerFunc(svc.HandleKeyUsage)))

	var handler http.Handler = mux
	handler = auth.CORSMiddleware(cfg.CORSOrigins)(handler)
	handler = auth.RequestIDMiddleware(handler)
	return handler
}
