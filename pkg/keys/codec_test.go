package keys_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/keymaster/pkg/keys"
)

func TestParseKey_Valid(t *testing.T) {
	parsed, err := keys.ParseKey("sk-proj.p1.k_Ab3dEf9.s3cr3t-_value")
	require.NoError(t, err)

	assert.Equal(t, "p1", parsed.ProjectID)
	assert.Equal(t, "k_Ab3dEf9", parsed.KeyID)
	assert.Equal(t, "s3cr3t-_value", parsed.Secret)
}

func TestParseKey_DotsInSecretSurvive(t *testing.T) {
	parsed, err := keys.ParseKey("sk-proj.p1.k_AAAAAAA.head.tail.more")
	require.NoError(t, err)

	assert.Equal(t, "head.tail.more", parsed.Secret)
}

func TestParseKey_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"wrong prefix", "sk-user.p1.k_AAAAAAA.secret"},
		{"prefix only", "sk-proj"},
		{"prefix with dot only", "sk-proj."},
		{"two segments", "sk-proj.p1"},
		{"three segments", "sk-proj.p1.k_AAAAAAA"},
		{"no dots at all", "sk-projp1k_AAAAAAAsecret"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := keys.ParseKey(tc.input)
			require.ErrorIs(t, err, keys.ErrInvalidFormat)
		})
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	original := "sk-proj.proj-42.k_zZ9aaaa.secret.with.dots-_"
	parsed, err := keys.ParseKey(original)
	require.NoError(t, err)
	assert.Equal(t, original, parsed.Format())
}

// Property: format(parse(s)) == s for every credential the parser accepts.
func TestCodec_RoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	segment := gen.RegexMatch(`[A-Za-z0-9_-]{1,16}`)
	secret := gen.RegexMatch(`[A-Za-z0-9._-]{1,48}`)

	properties.Property("parse then format is identity", prop.ForAll(
		func(pid, kid, sec string) bool {
			wire := keys.ParsedKey{ProjectID: pid, KeyID: kid, Secret: sec}.Format()
			parsed, err := keys.ParseKey(wire)
			if err != nil {
				return false
			}
			return parsed.Format() == wire &&
				parsed.ProjectID == pid && parsed.KeyID == kid && parsed.Secret == sec
		},
		segment, segment, secret,
	))

	properties.TestingRun(t)
}
