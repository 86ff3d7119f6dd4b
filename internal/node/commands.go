package node

import (
	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/packet"
)

// Command is the closed set of controller -> node messages.
type Command interface {
	isCommand()
	// Role is the only node type that understands the command; zero means
	// every role does.
	Role() network.NodeType
	Name() string
}

// Accepts reports whether a node of type t understands cmd.
func Accepts(t network.NodeType, cmd Command) bool {
	r := cmd.Role()
	return r == 0 || r == t
}

// AddSender hands the receiving node the packet channel of a new neighbour.
type AddSender struct {
	ID      network.NodeID
	Channel chan<- packet.Packet
}

type RemoveSender struct {
	ID network.NodeID
}

// ControllerShortcut injects a packet into the node, bypassing routing.
type ControllerShortcut struct {
	Packet packet.Packet
}

type RequestNetworkDiscovery struct{}

type SetPacketDropRate struct {
	PDR float64
}

type Crash struct{}

type RequestServerType struct {
	Server    network.NodeID
	RequestID string
}

type RequestFileList struct {
	Server    network.NodeID
	RequestID string
}

type RequestFile struct {
	Server    network.NodeID
	FileID    string
	RequestID string
}

type RequestMedia struct {
	Server    network.NodeID
	MediaID   string
	RequestID string
}

type RegisterToChat struct {
	Server    network.NodeID
	RequestID string
}

type RequestClientList struct {
	Server    network.NodeID
	RequestID string
}

type SendChatMessage struct {
	Server    network.NodeID
	To        network.NodeID
	Text      string
	RequestID string
}

type RegisterClient struct {
	Client network.NodeID
}

type SendClientList struct {
	Client network.NodeID
}

type SendMessageToClient struct {
	Client network.NodeID
	Text   string
}

func (AddSender) isCommand()               {}
func (RemoveSender) isCommand()            {}
func (ControllerShortcut) isCommand()      {}
func (RequestNetworkDiscovery) isCommand() {}
func (SetPacketDropRate) isCommand()       {}
func (Crash) isCommand()                   {}
func (RequestServerType) isCommand()       {}
func (RequestFileList) isCommand()         {}
func (RequestFile) isCommand()             {}
func (RequestMedia) isCommand()            {}
func (RegisterToChat) isCommand()          {}
func (RequestClientList) isCommand()       {}
func (SendChatMessage) isCommand()         {}
func (RegisterClient) isCommand()          {}
func (SendClientList) isCommand()          {}
func (SendMessageToClient) isCommand()     {}

func (AddSender) Role() network.NodeType               { return 0 }
func (RemoveSender) Role() network.NodeType            { return 0 }
func (ControllerShortcut) Role() network.NodeType      { return 0 }
func (RequestNetworkDiscovery) Role() network.NodeType { return 0 }
func (SetPacketDropRate) Role() network.NodeType       { return network.Drone }
func (Crash) Role() network.NodeType                   { return network.Drone }
func (RequestServerType) Role() network.NodeType       { return network.Client }
func (RequestFileList) Role() network.NodeType         { return network.Client }
func (RequestFile) Role() network.NodeType             { return network.Client }
func (RequestMedia) Role() network.NodeType            { return network.Client }
func (RegisterToChat) Role() network.NodeType          { return network.Client }
func (RequestClientList) Role() network.NodeType       { return network.Client }
func (SendChatMessage) Role() network.NodeType         { return network.Client }
func (RegisterClient) Role() network.NodeType          { return network.Server }
func (SendClientList) Role() network.NodeType          { return network.Server }
func (SendMessageToClient) Role() network.NodeType     { return network.Server }

func (AddSender) Name() string               { return "add_sender" }
func (RemoveSender) Name() string            { return "remove_sender" }
func (ControllerShortcut) Name() string      { return "controller_shortcut" }
func (RequestNetworkDiscovery) Name() string { return "request_network_discovery" }
func (SetPacketDropRate) Name() string       { return "set_packet_drop_rate" }
func (Crash) Name() string                   { return "crash" }
func (RequestServerType) Name() string       { return "request_server_type" }
func (RequestFileList) Name() string         { return "request_file_list" }
func (RequestFile) Name() string             { return "request_file" }
func (RequestMedia) Name() string            { return "request_media" }
func (RegisterToChat) Name() string          { return "register_to_chat" }
func (RequestClientList) Name() string       { return "request_client_list" }
func (SendChatMessage) Name() string         { return "send_chat_message" }
func (RegisterClient) Name() string          { return "register_client" }
func (SendClientList) Name() string          { return "send_client_list" }
func (SendMessageToClient) Name() string     { return "send_message_to_client" }
