// Package client is the reference client host. Web browsers browse content
// servers; chat clients talk through communication servers.
package client

import (
	"context"
	"fmt"
	"sort"

	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/node"
	"github.com/danmuck/dronenet/internal/protocol"
	"github.com/rs/xid"
)

type pendingRequest struct {
	server  network.NodeID
	command string
}

type Client struct {
	*node.Host
	kind     network.ClientKind
	servers  map[network.NodeID]network.ServerKind
	requests map[string]pendingRequest
}

func New(id network.NodeID, kind network.ClientKind, ch node.Channels, cfg node.HostConfig) *Client {
	c := &Client{
		kind:     kind,
		servers:  make(map[network.NodeID]network.ServerKind),
		requests: make(map[string]pendingRequest),
	}
	c.Host = node.NewHost(id, network.Client, ch, cfg, c)
	return c
}

func (c *Client) Kind() network.ClientKind {
	return c.kind
}

// Pending returns outstanding request ids, sorted.
func (c *Client) Pending() []string {
	out := make([]string, 0, len(c.requests))
	for id := range c.requests {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ServerKinds returns server kinds learned from ServerTypeResponse replies.
func (c *Client) ServerKinds() map[network.NodeID]network.ServerKind {
	out := make(map[network.NodeID]network.ServerKind, len(c.servers))
	for id, k := range c.servers {
		out[id] = k
	}
	return out
}

func requestID(id string) string {
	if id != "" {
		return id
	}
	return xid.New().String()
}

func (c *Client) HandleCommand(ctx context.Context, cmd node.Command) error {
	switch r := cmd.(type) {
	case node.RequestServerType:
		id := requestID(r.RequestID)
		return c.request(ctx, r.Server, cmd, protocol.ServerTypeRequest{RequestID: id})
	case node.RequestFileList:
		id := requestID(r.RequestID)
		return c.browse(ctx, r.Server, cmd, protocol.FileListRequest{RequestID: id})
	case node.RequestFile:
		id := requestID(r.RequestID)
		return c.browse(ctx, r.Server, cmd, protocol.FileRequest{RequestID: id, FileID: r.FileID})
	case node.RequestMedia:
		id := requestID(r.RequestID)
		return c.browse(ctx, r.Server, cmd, protocol.MediaRequest{RequestID: id, MediaID: r.MediaID})
	case node.RegisterToChat:
		id := requestID(r.RequestID)
		return c.chat(ctx, r.Server, cmd, protocol.RegisterRequest{RequestID: id})
	case node.RequestClientList:
		id := requestID(r.RequestID)
		return c.chat(ctx, r.Server, cmd, protocol.ClientListRequest{RequestID: id})
	case node.SendChatMessage:
		id := requestID(r.RequestID)
		return c.chat(ctx, r.Server, cmd, protocol.ChatMessage{RequestID: id, To: r.To, Text: r.Text})
	default:
		return nil
	}
}

func (c *Client) browse(ctx context.Context, server network.NodeID, cmd node.Command, req protocol.Request) error {
	if c.kind != network.WebBrowser {
		return c.refuse(ctx, server, cmd, req)
	}
	return c.request(ctx, server, cmd, req)
}

func (c *Client) chat(ctx context.Context, server network.NodeID, cmd node.Command, req protocol.Request) error {
	if c.kind != network.ChatClient {
		return c.refuse(ctx, server, cmd, req)
	}
	return c.request(ctx, server, cmd, req)
}

func (c *Client) refuse(ctx context.Context, server network.NodeID, cmd node.Command, req protocol.Request) error {
	c.Emit(ctx, node.RequestError{
		Node:      c.ID(),
		Server:    server,
		RequestID: req.CorrelationID(),
		Reason:    fmt.Sprintf("%s client cannot %s", c.kind, cmd.Name()),
	})
	return nil
}

func (c *Client) request(ctx context.Context, server network.NodeID, cmd node.Command, req protocol.Request) error {
	c.requests[req.CorrelationID()] = pendingRequest{server: server, command: cmd.Name()}
	c.Logger().Debug().
		Str("request_id", req.CorrelationID()).
		Str("command", cmd.Name()).
		Uint8("server", uint8(server)).
		Msg("client.Client.request")
	return c.Send(ctx, server, req)
}

func (c *Client) Deliver(ctx context.Context, from network.NodeID, msg protocol.Message) error {
	id := c.ID()
	switch m := msg.(type) {
	case protocol.ServerTypeResponse:
		delete(c.requests, m.RequestID)
		c.servers[from] = m.Kind
		c.Emit(ctx, node.ServerTypeReceived{Node: id, Server: from, RequestID: m.RequestID, Kind: m.Kind})
	case protocol.FileListResponse:
		delete(c.requests, m.RequestID)
		c.Emit(ctx, node.FileListReceived{Node: id, Server: from, RequestID: m.RequestID, FileIDs: m.FileIDs})
	case protocol.FileResponse:
		delete(c.requests, m.RequestID)
		c.Emit(ctx, node.FileReceived{Node: id, Server: from, RequestID: m.RequestID, FileID: m.FileID, Content: m.Content})
	case protocol.MediaResponse:
		delete(c.requests, m.RequestID)
		c.Emit(ctx, node.MediaReceived{Node: id, Server: from, RequestID: m.RequestID, MediaID: m.MediaID, Data: m.Data})
	case protocol.RegisterResponse:
		delete(c.requests, m.RequestID)
		if m.Accepted {
			c.Emit(ctx, node.RegistrationOk{Node: id, Server: from, RequestID: m.RequestID})
		} else {
			c.Emit(ctx, node.RegistrationError{Node: id, Server: from, RequestID: m.RequestID, Reason: m.Reason})
		}
	case protocol.ClientListResponse:
		delete(c.requests, m.RequestID)
		c.Emit(ctx, node.ClientListReceived{Node: id, Server: from, RequestID: m.RequestID, Clients: m.Clients})
	case protocol.ChatDelivery:
		c.Emit(ctx, node.ChatMessageReceived{Node: id, Server: from, From: m.From, Text: m.Text})
	case protocol.ErrorResponse:
		delete(c.requests, m.RequestID)
		c.Emit(ctx, node.RequestError{Node: id, Server: from, RequestID: m.RequestID, Reason: m.Reason})
	default:
		return fmt.Errorf("client: unexpected %T from %d", msg, from)
	}
	return nil
}

func (c *Client) Undeliverable(ctx context.Context, to network.NodeID, msg protocol.Message, reason string) {
	req, ok := msg.(protocol.Request)
	if !ok {
		return
	}
	delete(c.requests, req.CorrelationID())
	c.Emit(ctx, node.RequestError{Node: c.ID(), Server: to, RequestID: req.CorrelationID(), Reason: reason})
}
