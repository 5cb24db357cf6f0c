// Package keys defines the credential wire format, the secret primitives,
// and the persistent document shapes of the KeyMaster service.
package keys

import (
	"fmt"
	"strings"
)

// Prefix is the literal first segment of every credential.
const Prefix = "sk-proj"

// ParsedKey holds the three user segments of a credential.
type ParsedKey struct {
	ProjectID string
	KeyID     string
	Secret    string
}

// ParseKey splits a credential of the form
// sk-proj.{project_id}.{key_id}.{secret} into its segments.
// The split is capped at four parts so dots inside the secret survive;
// project_id and key_id therefore must not contain dots.
func ParseKey(apiKey string) (ParsedKey, error) {
	if !strings.HasPrefix(apiKey, Prefix+".") {
		return ParsedKey{}, fmt.Errorf("%w: missing %s prefix", ErrInvalidFormat, Prefix)
	}

	parts := strings.SplitN(apiKey, ".", 4)
	if len(parts) != 4 {
		return ParsedKey{}, fmt.Errorf("%w: expected 4 segments, got %d", ErrInvalidFormat, len(parts))
	}

	return ParsedKey{
		ProjectID: parts[1],
		KeyID:     parts[2],
		Secret:    parts[3],
	}, nil
}

// Format renders the credential back to its wire form.
// Format(ParseKey(s)) == s for every s the parser accepts.
func (p ParsedKey) Format() string {
	return Prefix + "." + p.ProjectID + "." + p.KeyID + "." + p.Secret
}
