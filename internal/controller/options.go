package controller

import (
	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/node"
	"github.com/danmuck/dronenet/internal/server"
)

// Options tunes a simulation run.
type Options struct {
	// PacketBuffer and CommandBuffer size each node's inbound channels.
	PacketBuffer  int
	CommandBuffer int
	// EventBuffer sizes the shared node -> controller channel.
	EventBuffer int
	// SubscriberBuffer sizes each Subscribe channel; full subscribers miss
	// events rather than stall the simulation.
	SubscriberBuffer int
	// History is how many recent events the admin surface keeps.
	History int
	// Seed makes drone drop decisions reproducible.
	Seed    int64
	Host    node.HostConfig
	Content map[network.NodeID]server.Content
	// AdminOrigins lists browser origins allowed by the admin CORS policy.
	AdminOrigins []string
	// AdminToken, when set, is the bearer token admin mutations require.
	AdminToken string
}

func DefaultOptions() Options {
	return Options{
		PacketBuffer:     256,
		CommandBuffer:    64,
		EventBuffer:      1024,
		SubscriberBuffer: 1024,
		History:          512,
		Seed:             1,
		Host:             node.DefaultHostConfig(),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.PacketBuffer <= 0 {
		o.PacketBuffer = def.PacketBuffer
	}
	if o.CommandBuffer <= 0 {
		o.CommandBuffer = def.CommandBuffer
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = def.EventBuffer
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = def.SubscriberBuffer
	}
	if o.History <= 0 {
		o.History = def.History
	}
	o.Host = o.Host.WithDefaults()
	return o
}
