package node

import (
	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/packet"
)

// Event is the closed set of node -> controller messages.
type Event interface {
	isEvent()
	// Source is the node that emitted the event.
	Source() network.NodeID
	Name() string
}

type PacketSent struct {
	Node   network.NodeID
	Packet packet.Packet
}

type Error struct {
	Node        network.NodeID
	Description string
}

type DebugMessage struct {
	Node network.NodeID
	Text string
}

// Route is emitted before a session is sent so the chosen path can be
// audited.
type Route struct {
	Node      network.NodeID
	SessionID uint64
	Hops      []network.NodeID
}

type PacketDropped struct {
	Node   network.NodeID
	Packet packet.Packet
}

// ShortcutRequested asks the controller to deliver a control packet the
// drone could not route.
type ShortcutRequested struct {
	Node   network.NodeID
	Packet packet.Packet
}

type ServerTypeReceived struct {
	Node      network.NodeID
	Server    network.NodeID
	RequestID string
	Kind      network.ServerKind
}

type FileListReceived struct {
	Node      network.NodeID
	Server    network.NodeID
	RequestID string
	FileIDs   []string
}

type FileReceived struct {
	Node      network.NodeID
	Server    network.NodeID
	RequestID string
	FileID    string
	Content   string
}

type MediaReceived struct {
	Node      network.NodeID
	Server    network.NodeID
	RequestID string
	MediaID   string
	Data      []byte
}

type ClientListReceived struct {
	Node      network.NodeID
	Server    network.NodeID
	RequestID string
	Clients   []network.NodeID
}

type ChatMessageReceived struct {
	Node   network.NodeID
	Server network.NodeID
	From   network.NodeID
	Text   string
}

type RegistrationOk struct {
	Node      network.NodeID
	Server    network.NodeID
	RequestID string
}

type RegistrationError struct {
	Node      network.NodeID
	Server    network.NodeID
	RequestID string
	Reason    string
}

// RequestError reports a request the server refused or the network could
// not deliver.
type RequestError struct {
	Node      network.NodeID
	Server    network.NodeID
	RequestID string
	Reason    string
}

type ClientRegistered struct {
	Node   network.NodeID
	Client network.NodeID
}

type ClientListSent struct {
	Node    network.NodeID
	Client  network.NodeID
	Clients []network.NodeID
}

type MessageSentToClient struct {
	Node   network.NodeID
	Client network.NodeID
	From   network.NodeID
	Text   string
}

func (PacketSent) isEvent()          {}
func (Error) isEvent()               {}
func (DebugMessage) isEvent()        {}
func (Route) isEvent()               {}
func (PacketDropped) isEvent()       {}
func (ShortcutRequested) isEvent()   {}
func (ServerTypeReceived) isEvent()  {}
func (FileListReceived) isEvent()    {}
func (FileReceived) isEvent()        {}
func (MediaReceived) isEvent()       {}
func (ClientListReceived) isEvent()  {}
func (ChatMessageReceived) isEvent() {}
func (RegistrationOk) isEvent()      {}
func (RegistrationError) isEvent()   {}
func (RequestError) isEvent()        {}
func (ClientRegistered) isEvent()    {}
func (ClientListSent) isEvent()      {}
func (MessageSentToClient) isEvent() {}

func (e PacketSent) Source() network.NodeID          { return e.Node }
func (e Error) Source() network.NodeID               { return e.Node }
func (e DebugMessage) Source() network.NodeID        { return e.Node }
func (e Route) Source() network.NodeID               { return e.Node }
func (e PacketDropped) Source() network.NodeID       { return e.Node }
func (e ShortcutRequested) Source() network.NodeID   { return e.Node }
func (e ServerTypeReceived) Source() network.NodeID  { return e.Node }
func (e FileListReceived) Source() network.NodeID    { return e.Node }
func (e FileReceived) Source() network.NodeID        { return e.Node }
func (e MediaReceived) Source() network.NodeID       { return e.Node }
func (e ClientListReceived) Source() network.NodeID  { return e.Node }
func (e ChatMessageReceived) Source() network.NodeID { return e.Node }
func (e RegistrationOk) Source() network.NodeID      { return e.Node }
func (e RegistrationError) Source() network.NodeID   { return e.Node }
func (e RequestError) Source() network.NodeID        { return e.Node }
func (e ClientRegistered) Source() network.NodeID    { return e.Node }
func (e ClientListSent) Source() network.NodeID      { return e.Node }
func (e MessageSentToClient) Source() network.NodeID { return e.Node }

func (PacketSent) Name() string          { return "packet_sent" }
func (Error) Name() string               { return "error" }
func (DebugMessage) Name() string        { return "debug_message" }
func (Route) Name() string               { return "route" }
func (PacketDropped) Name() string       { return "packet_dropped" }
func (ShortcutRequested) Name() string   { return "shortcut_requested" }
func (ServerTypeReceived) Name() string  { return "server_type_received" }
func (FileListReceived) Name() string    { return "file_list_received" }
func (FileReceived) Name() string        { return "file_received" }
func (MediaReceived) Name() string       { return "media_received" }
func (ClientListReceived) Name() string  { return "client_list_received" }
func (ChatMessageReceived) Name() string { return "chat_message_received" }
func (RegistrationOk) Name() string      { return "registration_ok" }
func (RegistrationError) Name() string   { return "registration_error" }
func (RequestError) Name() string        { return "request_error" }
func (ClientRegistered) Name() string    { return "client_registered" }
func (ClientListSent) Name() string      { return "client_list_sent" }
func (MessageSentToClient) Name() string { return "message_sent_to_client" }
