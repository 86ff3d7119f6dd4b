package protocol

import (
	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/protocol/schema"
	"github.com/danmuck/dronenet/internal/protocol/tlv"
)

// Message is the closed set of payloads that can be fragmented.
type Message interface {
	MessageType() uint32
	fields() ([]tlv.Field, error)
}

// Request is implemented by messages a client sends expecting a reply.
type Request interface {
	Message
	CorrelationID() string
}

// Text is a plain string payload.
type Text struct {
	Value string
}

// Number is a signed integer payload.
type Number struct {
	Value int64
}

// Real is a floating point payload.
type Real struct {
	Value float64
}

// Bytes is an opaque byte vector payload.
type Bytes struct {
	Value []byte
}

// Attribute is one ordered key/value pair of a Record.
type Attribute struct {
	Key   string
	Value string
}

// Record is a named structured payload.
type Record struct {
	Name       string
	Attributes []Attribute
}

// Nested wraps another message.
type Nested struct {
	Inner Message
}

type ServerTypeRequest struct {
	RequestID string
}

type ServerTypeResponse struct {
	RequestID string
	Kind      network.ServerKind
}

type FileListRequest struct {
	RequestID string
}

type FileListResponse struct {
	RequestID string
	FileIDs   []string
}

type FileRequest struct {
	RequestID string
	FileID    string
}

type FileResponse struct {
	RequestID string
	FileID    string
	Content   string
}

type MediaRequest struct {
	RequestID string
	MediaID   string
}

type MediaResponse struct {
	RequestID string
	MediaID   string
	Data      []byte
}

type RegisterRequest struct {
	RequestID string
}

type RegisterResponse struct {
	RequestID string
	Accepted  bool
	Reason    string
}

type ClientListRequest struct {
	RequestID string
}

type ClientListResponse struct {
	RequestID string
	Clients   []network.NodeID
}

// ChatMessage asks a communication server to relay Text to client To.
type ChatMessage struct {
	RequestID string
	To        network.NodeID
	Text      string
}

// ChatDelivery is a relayed chat message, or a server notice when From is
// the server itself.
type ChatDelivery struct {
	From network.NodeID
	Text string
}

// ErrorResponse answers a request the server could not satisfy.
type ErrorResponse struct {
	RequestID string
	Reason    string
}

func (Text) MessageType() uint32               { return schema.MsgText }
func (Number) MessageType() uint32             { return schema.MsgNumber }
func (Real) MessageType() uint32               { return schema.MsgReal }
func (Bytes) MessageType() uint32              { return schema.MsgBytes }
func (Record) MessageType() uint32             { return schema.MsgRecord }
func (Nested) MessageType() uint32             { return schema.MsgNested }
func (ServerTypeRequest) MessageType() uint32  { return schema.MsgServerTypeRequest }
func (ServerTypeResponse) MessageType() uint32 { return schema.MsgServerTypeResponse }
func (FileListRequest) MessageType() uint32    { return schema.MsgFileListRequest }
func (FileListResponse) MessageType() uint32   { return schema.MsgFileListResponse }
func (FileRequest) MessageType() uint32        { return schema.MsgFileRequest }
func (FileResponse) MessageType() uint32       { return schema.MsgFileResponse }
func (MediaRequest) MessageType() uint32       { return schema.MsgMediaRequest }
func (MediaResponse) MessageType() uint32      { return schema.MsgMediaResponse }
func (RegisterRequest) MessageType() uint32    { return schema.MsgRegisterRequest }
func (RegisterResponse) MessageType() uint32   { return schema.MsgRegisterResponse }
func (ClientListRequest) MessageType() uint32  { return schema.MsgClientListRequest }
func (ClientListResponse) MessageType() uint32 { return schema.MsgClientListResponse }
func (ChatMessage) MessageType() uint32        { return schema.MsgChatMessage }
func (ChatDelivery) MessageType() uint32       { return schema.MsgChatDelivery }
func (ErrorResponse) MessageType() uint32      { return schema.MsgErrorResponse }

func (m ServerTypeRequest) CorrelationID() string { return m.RequestID }
func (m FileListRequest) CorrelationID() string   { return m.RequestID }
func (m FileRequest) CorrelationID() string       { return m.RequestID }
func (m MediaRequest) CorrelationID() string      { return m.RequestID }
func (m RegisterRequest) CorrelationID() string   { return m.RequestID }
func (m ClientListRequest) CorrelationID() string { return m.RequestID }
func (m ChatMessage) CorrelationID() string       { return m.RequestID }
