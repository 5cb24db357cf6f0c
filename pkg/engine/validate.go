package engine

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/keymaster/pkg/keys"
)

// Validate authenticates a presented credential and returns its document.
//
// The steps run in a fixed order: parse, lookup, liveness, secret
// verification, rate gate, audit, usage update. Liveness precedes the
// Argon2 verification so disabled and expired keys cost no hashing work;
// verification precedes the rate-counter increment so unauthenticated
// traffic cannot inflate a legitimate key's window.
//
// Every terminated attempt with a parseable credential emits exactly one
// audit event; malformed credentials emit none. Audit and usage writes
// are best-effort and never change the returned result.
//
// All rejection reasons collapse into KindInvalidKey so the response does
// not leak which check failed; the audit stream keeps the true reason.
func (e *Engine) Validate(ctx context.Context, apiKey string) (*keys.APIKeyDocument, error) {
	start := e.now()

	parsed, err := keys.ParseKey(apiKey)
	if err != nil {
		e.metrics.RecordDenial(ctx, "malformed")
		e.finishValidate(ctx, keys.AuditDenied, start)
		return nil, keys.Wrap(keys.KindInvalidKey, "invalid or expired API key", err)
	}

	doc, err := e.validator.GetAPIKey(ctx, parsed.ProjectID, parsed.KeyID)
	if err != nil {
		e.logger.Error("api key lookup failed", "project_id", parsed.ProjectID, "key_id", parsed.KeyID, "error", err)
		return nil, keys.Wrap(keys.KindInternal, "internal server error", err)
	}
	if doc == nil {
		return nil, e.deny(ctx, parsed, "unknown_key", start)
	}

	if !doc.Valid(e.now()) {
		return nil, e.deny(ctx, parsed, "disabled_or_expired", start)
	}

	if !keys.VerifySecret(parsed.Secret, doc.SecretHash) {
		return nil, e.deny(ctx, parsed, "bad_secret", start)
	}

	allowed, err := e.validator.AllowRate(ctx, parsed.ProjectID, parsed.KeyID, e.rateLimit)
	if err != nil {
		// Fail open: the credential is already authenticated and only the
		// counter round-trip failed.
		e.logger.Warn("rate limit check failed, allowing", "project_id", parsed.ProjectID, "key_id", parsed.KeyID, "error", err)
	}
	if !allowed {
		e.metrics.RecordDenial(ctx, "rate_limited")
		e.audit(ctx, parsed, keys.AuditRateLimited)
		e.finishValidate(ctx, keys.AuditRateLimited, start)
		return nil, keys.E(keys.KindInvalidKey, "invalid or expired API key")
	}

	e.audit(ctx, parsed, keys.AuditOK)
	if err := e.validator.TouchUsage(ctx, parsed.ProjectID, parsed.KeyID); err != nil {
		e.logger.Warn("usage update failed", "project_id", parsed.ProjectID, "key_id", parsed.KeyID, "error", err)
	}
	e.finishValidate(ctx, keys.AuditOK, start)
	return doc, nil
}

// deny emits the denied audit event and returns the collapsed rejection.
func (e *Engine) deny(ctx context.Context, parsed keys.ParsedKey, reason string, start time.Time) error {
	e.metrics.RecordDenial(ctx, reason)
	e.audit(ctx, parsed, keys.AuditDenied)
	e.finishValidate(ctx, keys.AuditDenied, start)
	return keys.E(keys.KindInvalidKey, "invalid or expired API key")
}

// audit appends an event to the stream. Failures are logged, never surfaced.
func (e *Engine) audit(ctx context.Context, parsed keys.ParsedKey, result string) {
	event := keys.NewAuditEvent(parsed.ProjectID, parsed.KeyID, result)
	if err := e.validator.AppendAudit(ctx, event); err != nil {
		e.logger.Error("audit append failed", "project_id", parsed.ProjectID, "key_id", parsed.KeyID, "result", result, "error", err)
	}
}

func (e *Engine) finishValidate(ctx context.Context, result string, start time.Time) {
	e.metrics.RecordValidate(ctx, result, e.now().Sub(start))
}
