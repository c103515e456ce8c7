package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/engine"
	"github.com/asaidimu/go-jsondb/core/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsondb(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"--log-level", "error"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCLI(t *testing.T) {
	root := t.TempDir()
	history := filepath.Join(t.TempDir(), "events.db")
	global := []string{"--root", root, "--space", "acme", "--db", "crm"}

	code, out, _ := jsondb(t, append(global, "create")...)
	require.Equal(t, 0, code)
	assert.Equal(t, "created acme/crm\n", out)

	code, _, errOut := jsondb(t, append(global, "create")...)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already exists")

	cfg := storage.DefaultConfig()
	cfg.DomainRoot = root
	e, err := engine.Open(context.Background(), cfg, "acme", "crm", nil)
	require.NoError(t, err)
	_, err = e.Query().Insert(context.Background(), "contacts", []core.Document{
		{"id": "c1", "name": "Ada", "tier": "gold"},
		{"id": "c2", "name": "Grace", "tier": "silver"},
	})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	code, out, _ = jsondb(t, append(global, "collections")...)
	require.Equal(t, 0, code)
	assert.Equal(t, "contacts\n", out)

	code, out, errOut = jsondb(t, append(global, "--history", history, "sql", "SELECT name FROM contacts WHERE tier = 'gold'")...)
	require.Equal(t, 0, code, errOut)
	var res struct {
		Documents  []map[string]any `json:"documents"`
		TotalCount int              `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, []map[string]any{{"name": "Ada"}}, res.Documents)
	assert.Equal(t, 1, res.TotalCount)

	code, out, errOut = jsondb(t, append(global, "--history", history, "history")...)
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "[]\n", out, "reads record nothing")

	code, _, errOut = jsondb(t, append(global, "sql", "DELETE FROM contacts")...)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "DELETE")

	code, out, _ = jsondb(t, "--root", root, "--space", "acme", "list")
	require.Equal(t, 0, code)
	assert.Equal(t, "crm\n", out)

	code, out, _ = jsondb(t, append(global, "drop", "--soft")...)
	require.Equal(t, 0, code)
	assert.Equal(t, "dropped acme/crm\n", out)

	code, out, _ = jsondb(t, "--root", root, "--space", "acme", "list")
	require.Equal(t, 0, code)
	assert.Empty(t, out)
}

func TestCLIUsageErrors(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no command", []string{"--root", root}, 2},
		{"unknown command", []string{"--root", root, "frobnicate"}, 2},
		{"missing statement", []string{"--root", root, "sql"}, 2},
		{"missing database", []string{"--root", root, "sql", "SELECT * FROM c"}, 1},
		{"bad log level", []string{"--root", root, "--log-level", "loud", "list"}, 1},
		{"history without store", []string{"--root", root, "history"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, &stdout, &stderr)
			assert.Equal(t, tt.code, code, stderr.String())
		})
	}
}
