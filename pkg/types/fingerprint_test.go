package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintOfNormalizesWhitespaceAndCase(t *testing.T) {
	a := FingerprintOf("SELECT  a FROM t\n WHERE id = $1;")
	b := FingerprintOf("select a from t where id = $1")
	assert.Equal(t, a, b)
	assert.True(t, a.Valid())
}

func TestFingerprintOfIgnoresSpaceBeforeSemicolon(t *testing.T) {
	assert.Equal(t, FingerprintOf("select 1;"), FingerprintOf("select 1 ;"))
	assert.Equal(t, FingerprintOf("select 1"), FingerprintOf("SELECT 1 ;  "))
}

func TestFingerprintOfKeepsLiterals(t *testing.T) {
	a := FingerprintOf("select * from t where name = 'Bob'")
	b := FingerprintOf("select * from t where name = 'bob'")
	assert.NotEqual(t, a, b)
}

func TestParseFingerprint(t *testing.T) {
	fp, err := ParseFingerprint("42")
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(42), fp)

	neg, err := ParseFingerprint("-1")
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(^uint64(0)), neg)
	assert.Equal(t, "-1", neg.String())

	_, err = ParseFingerprint("x")
	assert.ErrorIs(t, err, ErrInvalidFingerprint)
}

func TestInvalidFingerprint(t *testing.T) {
	assert.False(t, InvalidFingerprint.Valid())
}

func TestFingerprintJSON(t *testing.T) {
	type body struct {
		Fingerprint Fingerprint `json:"fingerprint"`
	}

	out, err := json.Marshal(body{Fingerprint: Fingerprint(^uint64(0))})
	require.NoError(t, err)
	assert.JSONEq(t, `{"fingerprint":"-1"}`, string(out))

	var b body
	require.NoError(t, json.Unmarshal([]byte(`{"fingerprint":"-1"}`), &b))
	assert.Equal(t, Fingerprint(^uint64(0)), b.Fingerprint)

	require.NoError(t, json.Unmarshal([]byte(`{"fingerprint":18446744073709551615}`), &b))
	assert.Equal(t, Fingerprint(^uint64(0)), b.Fingerprint)

	assert.Error(t, json.Unmarshal([]byte(`{"fingerprint":"abc"}`), &b))
}
