package keys

import (
	"strconv"
	"time"
)

// ProjectDocument is the JSON document stored at project:{project_id}.
type ProjectDocument struct {
	ProjectID string  `json:"project_id"`
	Label     string  `json:"label"`
	Owner     string  `json:"owner"`
	CreatedAt float64 `json:"created_at"`
}

// APIKeyDocument is the JSON document stored at apikey:{project_id}:{key_id}.
// SecretHash is the PHC-encoded Argon2id hash of the key's secret; it never
// leaves the service in any response.
type APIKeyDocument struct {
	KeyID      string   `json:"key_id"`
	ProjectID  string   `json:"project_id"`
	Owner      string   `json:"owner"`
	Metadata   string   `json:"metadata"`
	SecretHash string   `json:"secret_hash"`
	Disabled   bool     `json:"disabled"`
	CreatedAt  float64  `json:"created_at"`
	ExpiresAt  *float64 `json:"expires_at,omitempty"`
}

// Expired reports whether the key's expiry, if set, has passed.
func (d *APIKeyDocument) Expired(now time.Time) bool {
	if d.ExpiresAt == nil {
		return false
	}
	return float64(now.UnixNano())/1e9 > *d.ExpiresAt
}

// Valid reports whether the key may authenticate: not disabled, not expired.
func (d *APIKeyDocument) Valid(now time.Time) bool {
	return !d.Disabled && !d.Expired(now)
}

// KeyMetadata returns the listing view of the document, with the secret
// hash stripped.
func (d *APIKeyDocument) KeyMetadata() KeyMetadata {
	return KeyMetadata{
		KeyID:     d.KeyID,
		Owner:     d.Owner,
		Metadata:  d.Metadata,
		CreatedAt: d.CreatedAt,
		Disabled:  d.Disabled,
		ExpiresAt: d.ExpiresAt,
	}
}

// KeyMetadata is the caller-visible projection of an APIKeyDocument.
type KeyMetadata struct {
	KeyID     string   `json:"key_id"`
	Owner     string   `json:"owner"`
	Metadata  string   `json:"metadata"`
	CreatedAt float64  `json:"created_at"`
	Disabled  bool     `json:"disabled"`
	ExpiresAt *float64 `json:"expires_at,omitempty"`
}

// UsageMeta is the per-key sidecar hash at apimeta:{project_id}:{key_id}.
// UsageCount advances only on successful validation.
type UsageMeta struct {
	UsageCount int64  `json:"usage_count"`
	LastUsed   string `json:"last_used"`
}

// Audit results for a terminated validation attempt.
const (
	AuditOK          = "ok"
	AuditDenied      = "denied"
	AuditRateLimited = "rate_limited"
)

// DefaultAuditClient tags events produced by this service.
const DefaultAuditClient = "keymanager"

// AuditEvent is one entry of the audit:keylookup stream. Emitted for every
// terminated validation attempt whose credential parsed; malformed
// credentials produce no event.
type AuditEvent struct {
	TS        float64 `json:"ts"`
	ProjectID string  `json:"project_id"`
	KeyID     string  `json:"key_id"`
	Result    string  `json:"result"`
	Client    string  `json:"client"`
}

// NewAuditEvent stamps an event with the current time and default client tag.
func NewAuditEvent(projectID, keyID, result string) AuditEvent {
	return AuditEvent{
		TS:        float64(time.Now().UnixNano()) / 1e9,
		ProjectID: projectID,
		KeyID:     keyID,
		Result:    result,
		Client:    DefaultAuditClient,
	}
}

// StreamFields converts the event to the flat field map appended to the
// Redis stream.
func (e AuditEvent) StreamFields() map[string]any {
	return map[string]any{
		"ts":         formatFloat(e.TS),
		"project_id": e.ProjectID,
		"key_id":     e.KeyID,
		"result":     e.Result,
		"client":     e.Client,
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
