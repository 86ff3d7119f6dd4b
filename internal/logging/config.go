package logging

import (
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/dronenet/internal/network"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Filter selects which nodes may log. A nil list enables every node of that
// role; an empty non-nil list silences the role.
type Filter struct {
	Drones  []network.NodeID
	Clients []network.NodeID
	Servers []network.NodeID
}

// Config is passed explicitly at startup; nothing is read from the
// environment.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	Output    io.Writer
	Filter    Filter
}

var (
	mu     sync.RWMutex
	active = DefaultConfig(ProfileRuntime)

	configureOnce sync.Once
)

func DefaultConfig(profile Profile) Config {
	cfg := Config{Output: os.Stderr}
	switch profile {
	case ProfileTest:
		cfg.Level = zerolog.DebugLevel
		cfg.Timestamp = false
		cfg.NoColor = true
	default:
		cfg.Level = zerolog.InfoLevel
		cfg.Timestamp = true
	}
	return cfg
}

func ConfigureRuntime() {
	configureOnce.Do(func() { Configure(DefaultConfig(ProfileRuntime)) })
}

func ConfigureTests() {
	configureOnce.Do(func() { Configure(DefaultConfig(ProfileTest)) })
}

// Configure installs cfg as the process logger. It may be called again to
// swap filters without restarting.
func Configure(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	writer := zerolog.ConsoleWriter{
		Out:        cfg.Output,
		NoColor:    cfg.NoColor,
		TimeFormat: time.RFC3339,
	}
	if !cfg.Timestamp {
		writer.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	logger := zerolog.New(writer).Level(cfg.Level)
	if cfg.Timestamp {
		logger = logger.With().Timestamp().Logger()
	}

	mu.Lock()
	defer mu.Unlock()
	active = cfg
	zerolog.SetGlobalLevel(cfg.Level)
	log.Logger = logger
}

// ForNode returns a logger tagged with the node identity, or a disabled
// logger when the filter excludes the node.
func ForNode(t network.NodeType, id network.NodeID) zerolog.Logger {
	mu.RLock()
	filter := active.Filter
	mu.RUnlock()
	if !filter.Allows(t, id) {
		return zerolog.Nop()
	}
	return log.Logger.With().Str("role", t.String()).Uint8("node", uint8(id)).Logger()
}

// Component returns a logger tagged with a subsystem name.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// Allows reports whether id of role t passes the filter.
func (f Filter) Allows(t network.NodeType, id network.NodeID) bool {
	var ids []network.NodeID
	switch t {
	case network.Drone:
		ids = f.Drones
	case network.Client:
		ids = f.Clients
	case network.Server:
		ids = f.Servers
	default:
		return true
	}
	if ids == nil {
		return true
	}
	return slices.Contains(ids, id)
}

// ParseLevel maps level names used in simulation files.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
