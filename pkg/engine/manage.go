package engine

import (
	"context"
	"errors"
	"strconv"

	"github.com/Mindburn-Labs/keymaster/pkg/keys"
	"github.com/Mindburn-Labs/keymaster/pkg/store"
)

// CreateProject writes a new project document. Fails KindProjectExists if
// the id is already taken; the existing record is left untouched.
func (e *Engine) CreateProject(ctx context.Context, projectID, label, owner string) (*keys.ProjectDocument, error) {
	existing, err := e.manager.GetProject(ctx, projectID)
	if err != nil {
		return nil, keys.Wrap(keys.KindInternal, "internal server error", err)
	}
	if existing != nil {
		return nil, keys.E(keys.KindProjectExists, "project already exists")
	}

	doc := &keys.ProjectDocument{
		ProjectID: projectID,
		Label:     label,
		Owner:     owner,
		CreatedAt: e.nowUnix(),
	}
	if err := e.manager.PutProject(ctx, doc); err != nil {
		return nil, keys.Wrap(keys.KindStorageError, "failed to create project", err)
	}

	e.logger.Info("project created", "project_id", projectID, "owner", owner)
	return doc, nil
}

// GetProject returns the project document or KindProjectNotFound.
func (e *Engine) GetProject(ctx context.Context, projectID string) (*keys.ProjectDocument, error) {
	doc, err := e.manager.GetProject(ctx, projectID)
	if err != nil {
		return nil, keys.Wrap(keys.KindInternal, "internal server error", err)
	}
	if doc == nil {
		return nil, keys.E(keys.KindProjectNotFound, "project not found")
	}
	return doc, nil
}

// MintKey creates a credential under the project and returns its wire
// form. The plaintext secret exists nowhere else: only its Argon2id hash
// is stored. The target project must exist.
func (e *Engine) MintKey(ctx context.Context, projectID, owner, metadata string, expiresAt *float64) (string, error) {
	project, err := e.manager.GetProject(ctx, projectID)
	if err != nil {
		return "", keys.Wrap(keys.KindInternal, "internal server error", err)
	}
	if project == nil {
		return "", keys.E(keys.KindProjectNotFound, "project not found")
	}

	keyID, err := keys.GenerateKeyID()
	if err != nil {
		return "", keys.Wrap(keys.KindInternal, "failed to generate key id", err)
	}
	secret, err := keys.GenerateSecret(keys.DefaultSecretLen)
	if err != nil {
		return "", keys.Wrap(keys.KindInternal, "failed to generate secret", err)
	}
	secretHash, err := keys.HashSecret(secret)
	if err != nil {
		return "", keys.Wrap(keys.KindInternal, "failed to hash secret", err)
	}

	doc := &keys.APIKeyDocument{
		KeyID:      keyID,
		ProjectID:  projectID,
		Owner:      owner,
		Metadata:   metadata,
		SecretHash: secretHash,
		Disabled:   false,
		CreatedAt:  e.nowUnix(),
		ExpiresAt:  expiresAt,
	}
	if err := e.manager.PutAPIKey(ctx, doc); err != nil {
		return "", keys.Wrap(keys.KindStorageError, "failed to store API key", err)
	}

	e.logger.Info("api key minted", "project_id", projectID, "key_id", keyID, "owner", owner)
	return keys.ParsedKey{ProjectID: projectID, KeyID: keyID, Secret: secret}.Format(), nil
}

// RevokeKey disables the key. Idempotent: revoking a revoked key
// succeeds. Fails KindKeyNotFound when the document is absent.
func (e *Engine) RevokeKey(ctx context.Context, projectID, keyID string) error {
	err := e.manager.RevokeAPIKey(ctx, projectID, keyID)
	if errors.Is(err, store.ErrNotFound) {
		return keys.E(keys.KindKeyNotFound, "API key not found")
	}
	if err != nil {
		return keys.Wrap(keys.KindStorageError, "failed to revoke API key", err)
	}

	e.logger.Info("api key revoked", "project_id", projectID, "key_id", keyID)
	return nil
}

// ListKeys pages through the project's keys in key-id order, projected to
// the metadata view. next carries the offset of the following page while
// a full page was returned, and is empty on the last page.
func (e *Engine) ListKeys(ctx context.Context, projectID string, offset, limit int) ([]keys.KeyMetadata, string, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	docs, err := e.manager.ListProjectKeys(ctx, projectID, offset, limit)
	if err != nil {
		return nil, "", keys.Wrap(keys.KindInternal, "internal server error", err)
	}

	items := make([]keys.KeyMetadata, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.KeyMetadata())
	}

	next := ""
	if len(items) == limit {
		next = strconv.Itoa(offset + limit)
	}
	return items, next, nil
}

// KeyUsage reads the usage sidecar of a key.
func (e *Engine) KeyUsage(ctx context.Context, projectID, keyID string) (keys.UsageMeta, error) {
	doc, err := e.manager.GetAPIKey(ctx, projectID, keyID)
	if err != nil {
		return keys.UsageMeta{}, keys.Wrap(keys.KindInternal, "internal server error", err)
	}
	if doc == nil {
		return keys.UsageMeta{}, keys.E(keys.KindKeyNotFound, "API key not found")
	}

	meta, err := e.manager.UsageMeta(ctx, projectID, keyID)
	if err != nil {
		return keys.UsageMeta{}, keys.Wrap(keys.KindInternal, "internal server error", err)
	}
	return meta, nil
}

// Ping probes the validator connection, for health checks.
func (e *Engine) Ping(ctx context.Context) error {
	return e.validator.Ping(ctx)
}

func (e *Engine) nowUnix() float64 {
	return float64(e.now().UnixNano()) / 1e9
}
