package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/topology"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestTemplatesLoadToTheSameValidRoster(t *testing.T) {
	tomlBody, err := Template("toml")
	require.NoError(t, err)
	yamlBody, err := Template("yaml")
	require.NoError(t, err)

	fromTOML, err := Load(writeFile(t, "sim.toml", tomlBody))
	require.NoError(t, err)
	fromYAML, err := Load(writeFile(t, "sim.yaml", yamlBody))
	require.NoError(t, err)

	require.Equal(t, fromTOML.Roster().Nodes(), fromYAML.Roster().Nodes())
	require.Equal(t, fromTOML.Simulation, fromYAML.Simulation)
	require.Equal(t, fromTOML.Servers, fromYAML.Servers)

	_, err = topology.Validate(fromTOML.Roster())
	require.NoError(t, err)

	require.Len(t, fromTOML.Drones, 4)
	require.Equal(t, "reference", fromTOML.Drones[0].Impl)
	require.Equal(t, network.ChatClient, fromTOML.Clients[1].Kind)
	require.Equal(t, network.CommunicationServer, fromTOML.Servers[1].Kind)
	require.Equal(t, "hello from the content server", fromTOML.Servers[0].Files["readme.txt"])
	require.Equal(t, []byte("<svg/>"), fromTOML.Servers[0].Media["logo.txt"])
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := writeFile(t, "sim.toml", `
[simulation]
max_attempts = 3
backoff_jitter = false

[[drone]]
id = 11
connected_node_ids = [1]
`)
	f, err := Load(path)
	require.NoError(t, err)

	def := DefaultSimulation()
	require.Equal(t, 3, f.Simulation.MaxAttempts)
	require.False(t, f.Simulation.BackoffJitter)
	require.Equal(t, def.AckTimeout, f.Simulation.AckTimeout)
	require.Equal(t, def.Seed, f.Simulation.Seed)
	require.Equal(t, def.AdminAddr, f.Simulation.AdminAddr)
	require.Equal(t, DefaultLogging(), f.Logging)
}

func TestLoadDurationsAndLogging(t *testing.T) {
	path := writeFile(t, "sim.yml", `
simulation:
  ack_timeout: 750ms
  route_timeout: 1m
logging:
  level: debug
  no_color: true
  drones: []
  clients: [1, 2]
drone:
  - id: 11
    connected_node_ids: [1]
`)
	f, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 750*time.Millisecond, f.Simulation.AckTimeout)
	require.Equal(t, time.Minute, f.Simulation.RouteTimeout)
	require.Equal(t, zerolog.DebugLevel, f.Logging.Level)
	require.True(t, f.Logging.NoColor)

	cfg := f.LoggingConfig()
	require.NotNil(t, cfg.Filter.Drones)
	require.Empty(t, cfg.Filter.Drones)
	require.Equal(t, []network.NodeID{1, 2}, cfg.Filter.Clients)
	require.Nil(t, cfg.Filter.Servers)
	require.False(t, cfg.Filter.Allows(network.Drone, 11))
	require.True(t, cfg.Filter.Allows(network.Server, 21))
}

func TestLoadRejects(t *testing.T) {
	cases := []struct {
		name string
		file string
		body string
	}{
		{
			name: "unsupported extension",
			file: "sim.json",
			body: `{}`,
		},
		{
			name: "duplicate id",
			file: "sim.toml",
			body: "[[drone]]\nid = 1\n[[client]]\nid = 1\n",
		},
		{
			name: "pdr out of range",
			file: "sim.toml",
			body: "[[drone]]\nid = 1\npdr = 1.5\n",
		},
		{
			name: "unknown drone implementation",
			file: "sim.toml",
			body: "[[drone]]\nid = 1\nimpl = \"warp\"\n",
		},
		{
			name: "unknown client kind",
			file: "sim.toml",
			body: "[[client]]\nid = 1\nkind = \"fax\"\n",
		},
		{
			name: "id out of range",
			file: "sim.toml",
			body: "[[drone]]\nid = 300\n",
		},
		{
			name: "neighbour out of range",
			file: "sim.yaml",
			body: "drone:\n  - id: 1\n    connected_node_ids: [-1]\n",
		},
		{
			name: "bad duration",
			file: "sim.toml",
			body: "[simulation]\nack_timeout = \"soon\"\n[[drone]]\nid = 1\n",
		},
		{
			name: "bad level",
			file: "sim.toml",
			body: "[logging]\nlevel = \"loud\"\n[[drone]]\nid = 1\n",
		},
		{
			name: "unknown toml key",
			file: "sim.toml",
			body: "[[drone]]\nid = 1\nspeed = 4\n",
		},
		{
			name: "unknown yaml key",
			file: "sim.yaml",
			body: "drone:\n  - id: 1\n    speed: 4\n",
		},
		{
			name: "no nodes",
			file: "sim.toml",
			body: "[simulation]\nseed = 4\n",
		},
		{
			name: "backoff inverted",
			file: "sim.toml",
			body: "[simulation]\nbackoff_initial = \"1s\"\nbackoff_max = \"10ms\"\n[[drone]]\nid = 1\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.file, tc.body))
			require.Error(t, err)
		})
	}
}

func TestOptionsCarryContentAndTuning(t *testing.T) {
	body, err := Template("toml")
	require.NoError(t, err)
	f, err := Load(writeFile(t, "sim.toml", body))
	require.NoError(t, err)

	opts := f.Options()
	require.Equal(t, int64(1), opts.Seed)
	require.Equal(t, 8, opts.Host.MaxAttempts)
	require.Equal(t, 2*time.Second, opts.Host.AckTimeout)
	require.Equal(t, 500*time.Millisecond, opts.Host.Backoff.MaxDelay)
	require.Contains(t, opts.Content, network.NodeID(21))
	require.NotContains(t, opts.Content, network.NodeID(22))
	require.Equal(t, "hello from the content server", opts.Content[21].Files["readme.txt"])
}

func TestWriteTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, WriteTemplate(path, false))
	require.Error(t, WriteTemplate(path, false))
	require.NoError(t, WriteTemplate(path, true))

	_, err := Load(path)
	require.NoError(t, err)
	require.ErrorIs(t, WriteTemplate(filepath.Join(t.TempDir(), "sim.ini"), false), ErrUnsupportedFormat)
}

func TestLoadAdminSettings(t *testing.T) {
	path := writeFile(t, "sim.toml", `
[simulation]
admin_addr = " 0.0.0.0:9400 "
admin_origins = ["http://localhost:5173"]
admin_token = " t0k "

[[drone]]
id = 11
connected_node_ids = [1]
impl = "reference"
`)
	f, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9400", f.Simulation.AdminAddr)

	opts := f.Options()
	require.Equal(t, []string{"http://localhost:5173"}, opts.AdminOrigins)
	require.Equal(t, "t0k", opts.AdminToken)
	require.Equal(t, "reference", f.Roster().Nodes()[0].Impl)
}
