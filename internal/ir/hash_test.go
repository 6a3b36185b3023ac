package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgramFingerprint(t *testing.T) {
	a := ProgramFingerprint([]byte("blob"))
	b := ProgramFingerprint([]byte("blob"))
	c := ProgramFingerprint([]byte("blob2"))

	assert.Equal(t, a, b, "fingerprint must be deterministic")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64, "SHA-256 hex is 64 characters")
}

func TestDomainSeparation(t *testing.T) {
	data := []byte(`{"degree":2}`)
	assert.NotEqual(t, hashWithDomain(DomainProgram, data), hashWithDomain(DomainPassConfig, data))
}

func TestConfigHashKeyOrderIndependent(t *testing.T) {
	h1, err := ConfigHash(map[string]any{"stage": 1, "degree": 2})
	require.NoError(t, err)
	h2, err := ConfigHash(map[string]any{"degree": 2, "stage": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3 := MustConfigHash(map[string]any{"degree": 4, "stage": 1})
	assert.NotEqual(t, h1, h3)
}

func TestConfigHashRejectsNull(t *testing.T) {
	_, err := ConfigHash(map[string]any{"x": nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ConfigHash")
}
