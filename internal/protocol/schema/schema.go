package schema

import (
	"fmt"

	"github.com/danmuck/dronenet/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs carried in the frame header.
const (
	MsgText   uint32 = 1
	MsgNumber uint32 = 2
	MsgReal   uint32 = 3
	MsgBytes  uint32 = 4
	MsgRecord uint32 = 5
	MsgNested uint32 = 6

	MsgServerTypeRequest  uint32 = 10
	MsgServerTypeResponse uint32 = 11
	MsgFileListRequest    uint32 = 12
	MsgFileListResponse   uint32 = 13
	MsgFileRequest        uint32 = 14
	MsgFileResponse       uint32 = 15
	MsgMediaRequest       uint32 = 16
	MsgMediaResponse      uint32 = 17
	MsgRegisterRequest    uint32 = 18
	MsgRegisterResponse   uint32 = 19
	MsgClientListRequest  uint32 = 20
	MsgClientListResponse uint32 = 21
	MsgChatMessage        uint32 = 22
	MsgChatDelivery       uint32 = 23
	MsgErrorResponse      uint32 = 24
)

// Field IDs shared by all message types.
const (
	FieldRequestID uint16 = 1

	FieldText   uint16 = 10
	FieldNumber uint16 = 11
	FieldReal   uint16 = 12
	FieldData   uint16 = 13
	FieldName   uint16 = 14
	FieldInner  uint16 = 15

	FieldAttribute uint16 = 20
	FieldKey       uint16 = 21
	FieldValue     uint16 = 22

	FieldServerKind uint16 = 30
	FieldFileID     uint16 = 31
	FieldMediaID    uint16 = 32
	FieldClientID   uint16 = 33
	FieldFrom       uint16 = 34
	FieldTo         uint16 = 35

	FieldAccepted uint16 = 40
	FieldReason   uint16 = 41
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

// Repeated fields (file ids, client ids, record attributes) are optional and
// so never listed here.
var requirements = map[uint32][]Requirement{
	MsgText:   {{FieldText, tlv.TypeString}},
	MsgNumber: {{FieldNumber, tlv.TypeI64}},
	MsgReal:   {{FieldReal, tlv.TypeF64}},
	MsgBytes:  {{FieldData, tlv.TypeBytes}},
	MsgRecord: {{FieldName, tlv.TypeString}},
	MsgNested: {{FieldInner, tlv.TypeBytes}},

	MsgServerTypeRequest: {{FieldRequestID, tlv.TypeString}},
	MsgServerTypeResponse: {
		{FieldRequestID, tlv.TypeString},
		{FieldServerKind, tlv.TypeU8},
	},
	MsgFileListRequest:  {{FieldRequestID, tlv.TypeString}},
	MsgFileListResponse: {{FieldRequestID, tlv.TypeString}},
	MsgFileRequest: {
		{FieldRequestID, tlv.TypeString},
		{FieldFileID, tlv.TypeString},
	},
	MsgFileResponse: {
		{FieldRequestID, tlv.TypeString},
		{FieldFileID, tlv.TypeString},
		{FieldText, tlv.TypeString},
	},
	MsgMediaRequest: {
		{FieldRequestID, tlv.TypeString},
		{FieldMediaID, tlv.TypeString},
	},
	MsgMediaResponse: {
		{FieldRequestID, tlv.TypeString},
		{FieldMediaID, tlv.TypeString},
		{FieldData, tlv.TypeBytes},
	},
	MsgRegisterRequest: {{FieldRequestID, tlv.TypeString}},
	MsgRegisterResponse: {
		{FieldRequestID, tlv.TypeString},
		{FieldAccepted, tlv.TypeBool},
	},
	MsgClientListRequest:  {{FieldRequestID, tlv.TypeString}},
	MsgClientListResponse: {{FieldRequestID, tlv.TypeString}},
	MsgChatMessage: {
		{FieldRequestID, tlv.TypeString},
		{FieldTo, tlv.TypeU8},
		{FieldText, tlv.TypeString},
	},
	MsgChatDelivery: {
		{FieldFrom, tlv.TypeU8},
		{FieldText, tlv.TypeString},
	},
	MsgErrorResponse: {
		{FieldRequestID, tlv.TypeString},
		{FieldReason, tlv.TypeString},
	},
}

// Known reports whether messageType has a schema entry.
func Known(messageType uint32) bool {
	_, ok := requirements[messageType]
	return ok
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	log.Trace().Uint32("message_type", messageType).Int("fields", len(fields)).Msg("schema.Validate")
	reqs, ok := requirements[messageType]
	if !ok {
		log.Debug().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
