// Package store provides the typed Redis operations of the KeyMaster
// service: JSON document get/set, project key-set membership, the usage
// sidecar hash, the audit stream, and the minute-bucket rate counter.
//
// Two handles with distinct Redis ACL credentials are built at startup:
// the validator (read-only on documents, write on stream/counter/sidecar)
// and the manager (full read/write). Neither handle mutates after
// construction.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/keymaster/pkg/keys"
)

// ErrNotFound is returned by mutations that target an absent document.
var ErrNotFound = errors.New("document not found")

// auditStream is the single append-only stream of validation outcomes.
const auditStream = "audit:keylookup"

// rateWindowTTL keeps expired minute buckets around long enough to absorb
// clock skew between service instances.
const rateWindowTTL = 120 * time.Second

// revokeRetries bounds optimistic-lock retries when a revoke races
// another writer on the same document.
const revokeRetries = 3

// Options configures one Redis handle.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	DB       int
}

// Store wraps a credentialed Redis connection with the KeyMaster schema.
type Store struct {
	rdb    redis.UniversalClient
	logger *slog.Logger
}

// New dials Redis with bounded socket timeouts and a single retry.
func New(opts Options, logger *slog.Logger) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		MaxRetries:   1,
	})
	return NewWithClient(rdb, logger)
}

// NewWithClient wraps an existing client. Used by tests and by callers
// that need custom client construction (sentinel, cluster).
func NewWithClient(rdb redis.UniversalClient, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{rdb: rdb, logger: logger.With("component", "store")}
}

// Ping probes the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Key layout. Exact names are part of the cross-service contract.

func projectKey(projectID string) string {
	return "project:" + projectID
}

func apiKeyKey(projectID, keyID string) string {
	return "apikey:" + projectID + ":" + keyID
}

func projectKeysKey(projectID string) string {
	return "apiprojectkeys:" + projectID
}

func metaKey(projectID, keyID string) string {
	return "apimeta:" + projectID + ":" + keyID
}

func rateLimitKey(projectID, keyID string, minute int64) string {
	return "ratelimit:key:" + projectID + ":" + keyID + ":" + strconv.FormatInt(minute, 10)
}

// GetProject reads the project document. Absent or undecodable documents
// return nil without error.
func (s *Store) GetProject(ctx context.Context, projectID string) (*keys.ProjectDocument, error) {
	raw, err := s.rdb.Get(ctx, projectKey(projectID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}

	var doc keys.ProjectDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		s.logger.Error("malformed project document", "project_id", projectID, "error", err)
		return nil, nil
	}
	return &doc, nil
}

// PutProject writes the project document. Unconditional overwrite; the
// caller enforces the existence check.
func (s *Store) PutProject(ctx context.Context, doc *keys.ProjectDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal project %s: %w", doc.ProjectID, err)
	}
	if err := s.rdb.Set(ctx, projectKey(doc.ProjectID), raw, 0).Err(); err != nil {
		return fmt.Errorf("store project %s: %w", doc.ProjectID, err)
	}
	return nil
}

// GetAPIKey reads an API key document. Absent or undecodable documents
// return nil without error.
func (s *Store) GetAPIKey(ctx context.Context, projectID, keyID string) (*keys.APIKeyDocument, error) {
	raw, err := s.rdb.Get(ctx, apiKeyKey(projectID, keyID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get api key %s:%s: %w", projectID, keyID, err)
	}

	var doc keys.APIKeyDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		s.logger.Error("malformed api key document", "project_id", projectID, "key_id", keyID, "error", err)
		return nil, nil
	}
	return &doc, nil
}

// PutAPIKey stores a freshly minted key as one MULTI/EXEC transaction:
// the document, its membership in the project key set, and the zeroed
// usage sidecar. Partial state is never observable.
func (s *Store) PutAPIKey(ctx context.Context, doc *keys.APIKeyDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal api key %s:%s: %w", doc.ProjectID, doc.KeyID, err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, apiKeyKey(doc.ProjectID, doc.KeyID), raw, 0)
		pipe.SAdd(ctx, projectKeysKey(doc.ProjectID), doc.KeyID)
		pipe.HSet(ctx, metaKey(doc.ProjectID, doc.KeyID), "usage_count", 0, "last_used", "")
		return nil
	})
	if err != nil {
		return fmt.Errorf("store api key %s:%s: %w", doc.ProjectID, doc.KeyID, err)
	}
	return nil
}

// RevokeAPIKey flips disabled=true on the existing document under an
// optimistic WATCH transaction, so the flip cannot clobber a concurrent
// rewrite of the document. Returns ErrNotFound if the document is absent.
// Revoking an already-revoked key succeeds.
func (s *Store) RevokeAPIKey(ctx context.Context, projectID, keyID string) error {
	key := apiKeyKey(projectID, keyID)

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var doc keys.APIKeyDocument
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return fmt.Errorf("malformed api key document: %w", err)
		}
		doc.Disabled = true

		updated, err := json.Marshal(&doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < revokeRetries; i++ {
		err = s.rdb.Watch(ctx, txn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("revoke api key %s:%s: %w", projectID, keyID, err)
	}
	return nil
}

// ListProjectKeys returns the documents of the project's key set, sorted
// by key ID so the offset cursor is stable across pages. Keys whose
// documents have vanished between SMEMBERS and fetch are skipped.
func (s *Store) ListProjectKeys(ctx context.Context, projectID string, offset, limit int) ([]*keys.APIKeyDocument, error) {
	ids, err := s.rdb.SMembers(ctx, projectKeysKey(projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list keys for project %s: %w", projectID, err)
	}
	sort.Strings(ids)

	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}

	docs := make([]*keys.APIKeyDocument, 0, end-offset)
	for _, id := range ids[offset:end] {
		doc, err := s.GetAPIKey(ctx, projectID, id)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// AppendAudit appends an event to the audit:keylookup stream.
func (s *Store) AppendAudit(ctx context.Context, event keys.AuditEvent) error {
	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: auditStream,
		Values: event.StreamFields(),
	}).Err()
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// AllowRate increments the key's current minute bucket and reports
// whether the request stays within limit. INCR and the 120 s EXPIRE run
// as one MULTI/EXEC. The error, if any, is returned alongside allow=true:
// the caller has already authenticated the credential by this point and
// the contract is to fail open.
func (s *Store) AllowRate(ctx context.Context, projectID, keyID string, limit int64) (bool, error) {
	minute := time.Now().Unix() / 60
	key := rateLimitKey(projectID, keyID, minute)

	var incr *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, rateWindowTTL)
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("rate limit check %s:%s: %w", projectID, keyID, err)
	}
	return incr.Val() <= limit, nil
}

// TouchUsage advances the usage sidecar: usage_count by one, last_used to
// the current time. Best-effort; invoked only after a successful validate.
func (s *Store) TouchUsage(ctx context.Context, projectID, keyID string) error {
	key := metaKey(projectID, keyID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "usage_count", 1)
		pipe.HSet(ctx, key, "last_used", time.Now().Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		return fmt.Errorf("update usage %s:%s: %w", projectID, keyID, err)
	}
	return nil
}

// UsageMeta reads the usage sidecar. A missing sidecar reads as zero.
func (s *Store) UsageMeta(ctx context.Context, projectID, keyID string) (keys.UsageMeta, error) {
	fields, err := s.rdb.HGetAll(ctx, metaKey(projectID, keyID)).Result()
	if err != nil {
		return keys.UsageMeta{}, fmt.Errorf("read usage %s:%s: %w", projectID, keyID, err)
	}

	var meta keys.UsageMeta
	if v, ok := fields["usage_count"]; ok {
		meta.UsageCount, _ = strconv.ParseInt(v, 10, 64)
	}
	meta.LastUsed = fields["last_used"]
	return meta, nil
}
