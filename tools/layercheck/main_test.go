package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryPassesLayerCheck(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(filepath.Join("..", ".."), &stdout, &stderr)
	assert.Equal(t, 0, code, stdout.String()+stderr.String())
}

func TestCheck_FindsViolation(t *testing.T) {
	root := t.TempDir()
	for _, pkg := range pipeline {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg", pkg), 0o750))
	}
	src := `package verify

import (
	"context"

	"github.com/truthtag/truthtag/pkg/api"
)

var _ = api.WriteJSON
var _ context.Context
`
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "verify", "bad.go"), []byte(src), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "verify", "bad_test.go"),
		[]byte("package verify\n\nimport _ \"net/http/httptest\"\n"), 0o600))

	got, err := check(root)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, filepath.Join("pkg", "verify", "bad.go"), got[0].File)
	assert.Equal(t, 6, got[0].Line)
	assert.Equal(t, "github.com/truthtag/truthtag/pkg/api", got[0].Import)

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run(root, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "LAYER VIOLATION")
}

func TestIsForbidden(t *testing.T) {
	assert.True(t, isForbidden("github.com/truthtag/truthtag/pkg/auth"))
	assert.True(t, isForbidden("github.com/truthtag/truthtag/cmd/truthtag"))
	assert.False(t, isForbidden("github.com/truthtag/truthtag/pkg/authz"))
	assert.False(t, isForbidden("github.com/truthtag/truthtag/pkg/ledger"))
}
