package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/dronenet/internal/config"
	"github.com/danmuck/dronenet/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInitThenValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "sim.toml")

	out, err := execute(t, "init", path)
	require.NoError(t, err)
	require.Contains(t, out, "wrote")

	_, err = execute(t, "init", path)
	require.Error(t, err)
	_, err = execute(t, "init", "--force", path)
	require.NoError(t, err)

	out, err = execute(t, "validate", path)
	require.NoError(t, err)
	require.Contains(t, out, "valid (8 nodes")
}

func TestValidateReportsTopologyErrors(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, writeFile(path, "drone:\n  - id: 11\n    connected_node_ids: [21]\nserver:\n  - id: 21\n    connected_drone_ids: [11]\n"))

	_, err := execute(t, "validate", path)
	require.ErrorContains(t, err, "server 21")
}

func TestServeStopsWithContext(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, config.WriteTemplate(path, false))
	f, err := config.Load(path)
	require.NoError(t, err)
	f.Simulation.AdminAddr = ""

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, serve(ctx, log.Logger, f, 50*time.Millisecond))
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o600)
}
