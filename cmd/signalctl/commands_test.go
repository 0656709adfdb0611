package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"fx-signal-auditor/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", t.TempDir()}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVerify_EmptyDatabaseIsHealthy(t *testing.T) {
	t.Setenv("FXA_DATABASE_DSN", "file::memory:")

	out, err := run(t, "verify")
	require.NoError(t, err)

	var rep map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "HEALTHY", rep["systemStatus"])
	assert.Equal(t, true, rep["success"])
}

func TestRepair_NothingToDo(t *testing.T) {
	t.Setenv("FXA_DATABASE_DSN", "file::memory:")

	out, err := run(t, "repair")
	require.NoError(t, err)
	assert.Contains(t, out, "Repaired 0 of 0 signals without outcome records")
}

func TestSeedPrice(t *testing.T) {
	t.Setenv("FXA_DATABASE_DSN", "file::memory:")

	out, err := run(t, "seed-price", "eur/usd", "1.0875")
	require.NoError(t, err)
	assert.Equal(t, "EURUSD = 1.0875\n", out)

	_, err = run(t, "seed-price", "EURUSD", "-1")
	assert.Error(t, err)

	_, err = run(t, "seed-price", "EURUSD")
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	t.Setenv("FXA_SERVER_JWT_SECRET", "s3cret")

	out, err := run(t, "token", "--subject", "ops", "--ttl", "1h")
	require.NoError(t, err)

	claims, err := auth.JWT{Secret: []byte("s3cret"), TokenTTL: time.Hour}.Verify(string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
	assert.Equal(t, "ops", claims.Subject)
}

func TestToken_RequiresSecret(t *testing.T) {
	_, err := run(t, "token")
	assert.Error(t, err)
}
