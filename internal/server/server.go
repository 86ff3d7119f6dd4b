// Package server is the reference server host. A content server serves
// files and media; a communication server relays chat between registered
// clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/node"
	"github.com/danmuck/dronenet/internal/protocol"
)

var ErrWrongKind = errors.New("server: command not supported by server kind")

// Content is what a content server serves.
type Content struct {
	Files map[string]string
	Media map[string][]byte
}

type Server struct {
	*node.Host
	kind       network.ServerKind
	content    Content
	registered map[network.NodeID]struct{}
}

func New(id network.NodeID, kind network.ServerKind, ch node.Channels, cfg node.HostConfig, content Content) *Server {
	s := &Server{
		kind: kind,
		content: Content{
			Files: maps.Clone(content.Files),
			Media: maps.Clone(content.Media),
		},
		registered: make(map[network.NodeID]struct{}),
	}
	s.Host = node.NewHost(id, network.Server, ch, cfg, s)
	return s
}

func (s *Server) Kind() network.ServerKind {
	return s.kind
}

// Registered returns registered chat clients, ascending.
func (s *Server) Registered() []network.NodeID {
	return slices.Sorted(maps.Keys(s.registered))
}

func (s *Server) HandleCommand(ctx context.Context, cmd node.Command) error {
	switch c := cmd.(type) {
	case node.RegisterClient:
		if s.kind != network.CommunicationServer {
			return fmt.Errorf("%w: %s on %s", ErrWrongKind, cmd.Name(), s.kind)
		}
		s.register(ctx, c.Client)
		return s.Send(ctx, c.Client, protocol.RegisterResponse{Accepted: true})
	case node.SendClientList:
		if s.kind != network.CommunicationServer {
			return fmt.Errorf("%w: %s on %s", ErrWrongKind, cmd.Name(), s.kind)
		}
		return s.sendClientList(ctx, c.Client, "")
	case node.SendMessageToClient:
		if err := s.Send(ctx, c.Client, protocol.ChatDelivery{From: s.ID(), Text: c.Text}); err != nil {
			return err
		}
		s.Emit(ctx, node.MessageSentToClient{Node: s.ID(), Client: c.Client, From: s.ID(), Text: c.Text})
		return nil
	default:
		return nil
	}
}

func (s *Server) Deliver(ctx context.Context, from network.NodeID, msg protocol.Message) error {
	s.Logger().Debug().Uint8("from", uint8(from)).Str("message", fmt.Sprintf("%T", msg)).Msg("server.Server.Deliver")
	switch m := msg.(type) {
	case protocol.ServerTypeRequest:
		return s.Send(ctx, from, protocol.ServerTypeResponse{RequestID: m.RequestID, Kind: s.kind})
	case protocol.FileListRequest, protocol.FileRequest, protocol.MediaRequest:
		if s.kind != network.ContentServer {
			return s.refuse(ctx, from, m.(protocol.Request), "not a content server")
		}
		return s.serveContent(ctx, from, m)
	case protocol.RegisterRequest:
		if s.kind != network.CommunicationServer {
			return s.Send(ctx, from, protocol.RegisterResponse{
				RequestID: m.RequestID,
				Reason:    "not a communication server",
			})
		}
		s.register(ctx, from)
		return s.Send(ctx, from, protocol.RegisterResponse{RequestID: m.RequestID, Accepted: true})
	case protocol.ClientListRequest:
		if s.kind != network.CommunicationServer {
			return s.refuse(ctx, from, m, "not a communication server")
		}
		return s.sendClientList(ctx, from, m.RequestID)
	case protocol.ChatMessage:
		return s.relay(ctx, from, m)
	default:
		return fmt.Errorf("server: unexpected %T from %d", msg, from)
	}
}

func (s *Server) serveContent(ctx context.Context, from network.NodeID, msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.FileListRequest:
		ids := slices.Sorted(maps.Keys(s.content.Files))
		return s.Send(ctx, from, protocol.FileListResponse{RequestID: m.RequestID, FileIDs: ids})
	case protocol.FileRequest:
		body, ok := s.content.Files[m.FileID]
		if !ok {
			return s.refuse(ctx, from, m, fmt.Sprintf("file %q not found", m.FileID))
		}
		return s.Send(ctx, from, protocol.FileResponse{RequestID: m.RequestID, FileID: m.FileID, Content: body})
	case protocol.MediaRequest:
		data, ok := s.content.Media[m.MediaID]
		if !ok {
			return s.refuse(ctx, from, m, fmt.Sprintf("media %q not found", m.MediaID))
		}
		return s.Send(ctx, from, protocol.MediaResponse{RequestID: m.RequestID, MediaID: m.MediaID, Data: data})
	}
	return nil
}

func (s *Server) relay(ctx context.Context, from network.NodeID, m protocol.ChatMessage) error {
	if s.kind != network.CommunicationServer {
		return s.refuse(ctx, from, m, "not a communication server")
	}
	if _, ok := s.registered[from]; !ok {
		return s.refuse(ctx, from, m, fmt.Sprintf("client %d not registered", from))
	}
	if _, ok := s.registered[m.To]; !ok {
		return s.refuse(ctx, from, m, fmt.Sprintf("client %d not registered", m.To))
	}
	if err := s.Send(ctx, m.To, protocol.ChatDelivery{From: from, Text: m.Text}); err != nil {
		return err
	}
	s.Emit(ctx, node.MessageSentToClient{Node: s.ID(), Client: m.To, From: from, Text: m.Text})
	return nil
}

func (s *Server) register(ctx context.Context, client network.NodeID) {
	s.registered[client] = struct{}{}
	s.Emit(ctx, node.ClientRegistered{Node: s.ID(), Client: client})
}

func (s *Server) sendClientList(ctx context.Context, client network.NodeID, requestID string) error {
	clients := s.Registered()
	if err := s.Send(ctx, client, protocol.ClientListResponse{RequestID: requestID, Clients: clients}); err != nil {
		return err
	}
	s.Emit(ctx, node.ClientListSent{Node: s.ID(), Client: client, Clients: clients})
	return nil
}

func (s *Server) refuse(ctx context.Context, to network.NodeID, req protocol.Request, reason string) error {
	s.Logger().Debug().Uint8("to", uint8(to)).Str("reason", reason).Msg("server.Server.refuse")
	return s.Send(ctx, to, protocol.ErrorResponse{RequestID: req.CorrelationID(), Reason: reason})
}

func (s *Server) Undeliverable(ctx context.Context, to network.NodeID, msg protocol.Message, reason string) {
	s.Logger().Warn().Uint8("to", uint8(to)).Str("reason", reason).Str("message", fmt.Sprintf("%T", msg)).Msg("server.Server.Undeliverable")
}
