// Package config loads simulation files. TOML and YAML carry the same
// keys; optional keys left out of the file keep DefaultSimulation values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/dronenet/internal/controller"
	"github.com/danmuck/dronenet/internal/drone"
	"github.com/danmuck/dronenet/internal/logging"
	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/node"
	"github.com/danmuck/dronenet/internal/server"
	"github.com/danmuck/dronenet/internal/topology"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
	ErrInvalid           = errors.New("config: invalid simulation file")
)

// File is a decoded simulation file.
type File struct {
	Simulation Simulation
	Logging    Logging
	Drones     []DroneEntry
	Clients    []ClientEntry
	Servers    []ServerEntry
}

// Simulation carries controller and host tuning.
type Simulation struct {
	Seed           int64
	PacketBuffer   int
	CommandBuffer  int
	EventBuffer    int
	History        int
	MaxAttempts    int
	AckTimeout     time.Duration
	RouteTimeout   time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffJitter  bool
	AdminAddr      string
	AdminOrigins   []string
	AdminToken     string
}

type Logging struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	Filter    logging.Filter
}

type DroneEntry struct {
	ID         network.NodeID
	Neighbours []network.NodeID
	PDR        float64
	// Impl names a registered drone implementation; empty is the reference.
	Impl string
}

type ClientEntry struct {
	ID     network.NodeID
	Drones []network.NodeID
	Kind   network.ClientKind
}

type ServerEntry struct {
	ID     network.NodeID
	Drones []network.NodeID
	Kind   network.ServerKind
	Files  map[string]string
	Media  map[string][]byte
}

// key mapping shared by both decoders
type rawFile struct {
	Simulation rawSimulation `toml:"simulation" yaml:"simulation"`
	Logging    rawLogging    `toml:"logging" yaml:"logging"`
	Drones     []rawDrone    `toml:"drone" yaml:"drone"`
	Clients    []rawClient   `toml:"client" yaml:"client"`
	Servers    []rawServer   `toml:"server" yaml:"server"`
}

type rawSimulation struct {
	Seed           int64    `toml:"seed" yaml:"seed"`
	PacketBuffer   int      `toml:"packet_buffer" yaml:"packet_buffer"`
	CommandBuffer  int      `toml:"command_buffer" yaml:"command_buffer"`
	EventBuffer    int      `toml:"event_buffer" yaml:"event_buffer"`
	History        int      `toml:"history" yaml:"history"`
	MaxAttempts    int      `toml:"max_attempts" yaml:"max_attempts"`
	AckTimeout     string   `toml:"ack_timeout" yaml:"ack_timeout"`
	RouteTimeout   string   `toml:"route_timeout" yaml:"route_timeout"`
	BackoffInitial string   `toml:"backoff_initial" yaml:"backoff_initial"`
	BackoffMax     string   `toml:"backoff_max" yaml:"backoff_max"`
	BackoffJitter  bool     `toml:"backoff_jitter" yaml:"backoff_jitter"`
	AdminAddr      string   `toml:"admin_addr" yaml:"admin_addr"`
	AdminOrigins   []string `toml:"admin_origins" yaml:"admin_origins"`
	AdminToken     string   `toml:"admin_token" yaml:"admin_token"`
}

type rawLogging struct {
	Level     string `toml:"level" yaml:"level"`
	Timestamp bool   `toml:"timestamp" yaml:"timestamp"`
	NoColor   bool   `toml:"no_color" yaml:"no_color"`
	Drones    []int  `toml:"drones" yaml:"drones"`
	Clients   []int  `toml:"clients" yaml:"clients"`
	Servers   []int  `toml:"servers" yaml:"servers"`
}

type rawDrone struct {
	ID         int     `toml:"id" yaml:"id"`
	Neighbours []int   `toml:"connected_node_ids" yaml:"connected_node_ids"`
	PDR        float64 `toml:"pdr" yaml:"pdr"`
	Impl       string  `toml:"impl" yaml:"impl"`
}

type rawClient struct {
	ID     int    `toml:"id" yaml:"id"`
	Drones []int  `toml:"connected_drone_ids" yaml:"connected_drone_ids"`
	Kind   string `toml:"kind" yaml:"kind"`
}

type rawServer struct {
	ID     int               `toml:"id" yaml:"id"`
	Drones []int             `toml:"connected_drone_ids" yaml:"connected_drone_ids"`
	Kind   string            `toml:"kind" yaml:"kind"`
	Files  map[string]string `toml:"files" yaml:"files"`
	Media  map[string]string `toml:"media" yaml:"media"`
}

// DefaultSimulation mirrors controller.DefaultOptions.
func DefaultSimulation() Simulation {
	opts := controller.DefaultOptions()
	return Simulation{
		Seed:           opts.Seed,
		PacketBuffer:   opts.PacketBuffer,
		CommandBuffer:  opts.CommandBuffer,
		EventBuffer:    opts.EventBuffer,
		History:        opts.History,
		MaxAttempts:    opts.Host.MaxAttempts,
		AckTimeout:     opts.Host.AckTimeout,
		RouteTimeout:   opts.Host.RouteTimeout,
		BackoffInitial: opts.Host.Backoff.InitialDelay,
		BackoffMax:     opts.Host.Backoff.MaxDelay,
		BackoffJitter:  opts.Host.Backoff.Jitter,
		AdminAddr:      "127.0.0.1:9300",
	}
}

func DefaultLogging() Logging {
	def := logging.DefaultConfig(logging.ProfileRuntime)
	return Logging{Level: def.Level, Timestamp: def.Timestamp, NoColor: def.NoColor}
}

// Load reads path, picking the decoder from the extension, and validates
// the result.
func Load(path string) (File, error) {
	var (
		raw     rawFile
		defined func(keys ...string) bool
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return File{}, fmt.Errorf("load simulation config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return File{}, fmt.Errorf("%w: unknown key %s", ErrInvalid, undecoded[0])
		}
		defined = meta.IsDefined
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return File{}, fmt.Errorf("load simulation config: %w", err)
		}
		root, err := decodeYAML(data, &raw)
		if err != nil {
			return File{}, fmt.Errorf("load simulation config: %w", err)
		}
		defined = func(keys ...string) bool { return yamlDefined(root, keys...) }
	default:
		return File{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	f, err := raw.resolve(defined)
	if err != nil {
		return File{}, err
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

func decodeYAML(data []byte, out *rawFile) (*yaml.Node, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return nil, err
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	return &root, nil
}

// yamlDefined walks mapping keys from the document root.
func yamlDefined(root *yaml.Node, keys ...string) bool {
	n := root
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	for _, key := range keys {
		if n.Kind != yaml.MappingNode {
			return false
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == key {
				next = n.Content[i+1]
				break
			}
		}
		if next == nil {
			return false
		}
		n = next
	}
	return true
}

func (raw rawFile) resolve(defined func(keys ...string) bool) (File, error) {
	f := File{Simulation: DefaultSimulation(), Logging: DefaultLogging()}
	if err := raw.Simulation.overlay(&f.Simulation, defined); err != nil {
		return File{}, err
	}
	if err := raw.Logging.overlay(&f.Logging, defined); err != nil {
		return File{}, err
	}

	for i, d := range raw.Drones {
		id, err := nodeID(d.ID)
		if err != nil {
			return File{}, fmt.Errorf("%w: drone[%d]: %v", ErrInvalid, i, err)
		}
		neighbours, err := nodeIDs(d.Neighbours)
		if err != nil {
			return File{}, fmt.Errorf("%w: drone %d: %v", ErrInvalid, id, err)
		}
		f.Drones = append(f.Drones, DroneEntry{ID: id, Neighbours: neighbours, PDR: d.PDR, Impl: d.Impl})
	}
	for i, c := range raw.Clients {
		id, err := nodeID(c.ID)
		if err != nil {
			return File{}, fmt.Errorf("%w: client[%d]: %v", ErrInvalid, i, err)
		}
		drones, err := nodeIDs(c.Drones)
		if err != nil {
			return File{}, fmt.Errorf("%w: client %d: %v", ErrInvalid, id, err)
		}
		kind := network.WebBrowser
		if strings.TrimSpace(c.Kind) != "" {
			if kind, err = network.ParseClientKind(c.Kind); err != nil {
				return File{}, fmt.Errorf("%w: client %d: %v", ErrInvalid, id, err)
			}
		}
		f.Clients = append(f.Clients, ClientEntry{ID: id, Drones: drones, Kind: kind})
	}
	for i, s := range raw.Servers {
		id, err := nodeID(s.ID)
		if err != nil {
			return File{}, fmt.Errorf("%w: server[%d]: %v", ErrInvalid, i, err)
		}
		drones, err := nodeIDs(s.Drones)
		if err != nil {
			return File{}, fmt.Errorf("%w: server %d: %v", ErrInvalid, id, err)
		}
		kind := network.ContentServer
		if strings.TrimSpace(s.Kind) != "" {
			if kind, err = network.ParseServerKind(s.Kind); err != nil {
				return File{}, fmt.Errorf("%w: server %d: %v", ErrInvalid, id, err)
			}
		}
		entry := ServerEntry{ID: id, Drones: drones, Kind: kind, Files: s.Files}
		if len(s.Media) > 0 {
			entry.Media = make(map[string][]byte, len(s.Media))
			for name, data := range s.Media {
				entry.Media[name] = []byte(data)
			}
		}
		f.Servers = append(f.Servers, entry)
	}
	return f, nil
}

func (raw rawSimulation) overlay(sim *Simulation, defined func(keys ...string) bool) error {
	if defined("simulation", "seed") {
		sim.Seed = raw.Seed
	}
	if defined("simulation", "packet_buffer") {
		sim.PacketBuffer = raw.PacketBuffer
	}
	if defined("simulation", "command_buffer") {
		sim.CommandBuffer = raw.CommandBuffer
	}
	if defined("simulation", "event_buffer") {
		sim.EventBuffer = raw.EventBuffer
	}
	if defined("simulation", "history") {
		sim.History = raw.History
	}
	if defined("simulation", "max_attempts") {
		sim.MaxAttempts = raw.MaxAttempts
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"ack_timeout", raw.AckTimeout, &sim.AckTimeout},
		{"route_timeout", raw.RouteTimeout, &sim.RouteTimeout},
		{"backoff_initial", raw.BackoffInitial, &sim.BackoffInitial},
		{"backoff_max", raw.BackoffMax, &sim.BackoffMax},
	}
	for _, d := range durations {
		if !defined("simulation", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%w: simulation.%s: %v", ErrInvalid, d.key, err)
		}
		*d.dst = v
	}
	if defined("simulation", "backoff_jitter") {
		sim.BackoffJitter = raw.BackoffJitter
	}
	if defined("simulation", "admin_addr") {
		sim.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if defined("simulation", "admin_origins") {
		sim.AdminOrigins = raw.AdminOrigins
	}
	if defined("simulation", "admin_token") {
		sim.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	return nil
}

func (raw rawLogging) overlay(l *Logging, defined func(keys ...string) bool) error {
	if defined("logging", "level") {
		level, ok := logging.ParseLevel(raw.Level)
		if !ok {
			return fmt.Errorf("%w: logging.level %q", ErrInvalid, raw.Level)
		}
		l.Level = level
	}
	if defined("logging", "timestamp") {
		l.Timestamp = raw.Timestamp
	}
	if defined("logging", "no_color") {
		l.NoColor = raw.NoColor
	}
	// an explicit empty list silences the role
	filters := []struct {
		key string
		raw []int
		dst *[]network.NodeID
	}{
		{"drones", raw.Drones, &l.Filter.Drones},
		{"clients", raw.Clients, &l.Filter.Clients},
		{"servers", raw.Servers, &l.Filter.Servers},
	}
	for _, f := range filters {
		if !defined("logging", f.key) {
			continue
		}
		ids, err := nodeIDs(f.raw)
		if err != nil {
			return fmt.Errorf("%w: logging.%s: %v", ErrInvalid, f.key, err)
		}
		*f.dst = ids
	}
	return nil
}

func nodeID(raw int) (network.NodeID, error) {
	if raw < 0 || raw > 255 {
		return 0, fmt.Errorf("node id %d out of range 0..255", raw)
	}
	return network.NodeID(raw), nil
}

func nodeIDs(raw []int) ([]network.NodeID, error) {
	out := make([]network.NodeID, 0, len(raw))
	for _, r := range raw {
		id, err := nodeID(r)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// Validate checks what the topology validator does not: unique ids, drop
// rates and tuning bounds. Graph shape is left to topology.Validate.
func (f File) Validate() error {
	seen := make(map[network.NodeID]string)
	claim := func(id network.NodeID, role string) error {
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("%w: id %d used by %s and %s", ErrInvalid, id, prev, role)
		}
		seen[id] = role
		return nil
	}
	for _, d := range f.Drones {
		if err := claim(d.ID, "drone"); err != nil {
			return err
		}
		if d.PDR < 0 || d.PDR > 1 {
			return fmt.Errorf("%w: drone %d pdr %v outside [0,1]", ErrInvalid, d.ID, d.PDR)
		}
		if _, ok := drone.Lookup(d.Impl); !ok {
			return fmt.Errorf("%w: drone %d impl %q not in %v", ErrInvalid, d.ID, d.Impl, drone.Implementations())
		}
	}
	for _, c := range f.Clients {
		if err := claim(c.ID, "client"); err != nil {
			return err
		}
	}
	for _, s := range f.Servers {
		if err := claim(s.ID, "server"); err != nil {
			return err
		}
	}
	if len(seen) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalid)
	}
	sim := f.Simulation
	if sim.PacketBuffer < 0 || sim.CommandBuffer < 0 || sim.EventBuffer < 0 || sim.History < 0 {
		return fmt.Errorf("%w: buffer sizes must not be negative", ErrInvalid)
	}
	if sim.MaxAttempts < 0 {
		return fmt.Errorf("%w: simulation.max_attempts must not be negative", ErrInvalid)
	}
	if sim.BackoffMax > 0 && sim.BackoffInitial > sim.BackoffMax {
		return fmt.Errorf("%w: simulation.backoff_initial exceeds backoff_max", ErrInvalid)
	}
	return nil
}

// Roster converts the file to a roster in file order: drones, clients,
// servers.
func (f File) Roster() topology.Roster {
	nodes := make([]topology.Descriptor, 0, len(f.Drones)+len(f.Clients)+len(f.Servers))
	for _, d := range f.Drones {
		nodes = append(nodes, topology.Descriptor{ID: d.ID, Type: network.Drone, Neighbours: d.Neighbours, PDR: d.PDR, Impl: d.Impl})
	}
	for _, c := range f.Clients {
		nodes = append(nodes, topology.Descriptor{ID: c.ID, Type: network.Client, Neighbours: c.Drones, ClientKind: c.Kind})
	}
	for _, s := range f.Servers {
		nodes = append(nodes, topology.Descriptor{ID: s.ID, Type: network.Server, Neighbours: s.Drones, ServerKind: s.Kind})
	}
	return topology.NewRoster(nodes...)
}

// Options builds controller options from the simulation section and
// server content.
func (f File) Options() controller.Options {
	sim := f.Simulation
	opts := controller.DefaultOptions()
	opts.Seed = sim.Seed
	opts.PacketBuffer = sim.PacketBuffer
	opts.CommandBuffer = sim.CommandBuffer
	opts.EventBuffer = sim.EventBuffer
	opts.History = sim.History
	opts.AdminOrigins = sim.AdminOrigins
	opts.AdminToken = sim.AdminToken
	opts.Host = node.HostConfig{
		MaxAttempts:       sim.MaxAttempts,
		AckTimeout:        sim.AckTimeout,
		DiscoveryInterval: opts.Host.DiscoveryInterval,
		RouteTimeout:      sim.RouteTimeout,
		ReassemblyTimeout: opts.Host.ReassemblyTimeout,
		TickInterval:      opts.Host.TickInterval,
		Backoff: node.BackoffConfig{
			InitialDelay: sim.BackoffInitial,
			Multiplier:   opts.Host.Backoff.Multiplier,
			MaxDelay:     sim.BackoffMax,
			Jitter:       sim.BackoffJitter,
		},
	}
	opts.Content = make(map[network.NodeID]server.Content, len(f.Servers))
	for _, s := range f.Servers {
		if len(s.Files) == 0 && len(s.Media) == 0 {
			continue
		}
		opts.Content[s.ID] = server.Content{Files: s.Files, Media: s.Media}
	}
	return opts
}

// LoggingConfig returns the logging section as a logging.Config.
func (f File) LoggingConfig() logging.Config {
	return logging.Config{
		Level:     f.Logging.Level,
		Timestamp: f.Logging.Timestamp,
		NoColor:   f.Logging.NoColor,
		Filter:    f.Logging.Filter,
	}
}
