package protocol

import (
	"fmt"

	"github.com/danmuck/dronenet/internal/protocol/frame"
	"github.com/danmuck/dronenet/internal/protocol/schema"
	"github.com/danmuck/dronenet/internal/protocol/tlv"
)

var responseTypes = map[uint32]struct{}{
	schema.MsgServerTypeResponse: {},
	schema.MsgFileListResponse:   {},
	schema.MsgFileResponse:       {},
	schema.MsgMediaResponse:      {},
	schema.MsgRegisterResponse:   {},
	schema.MsgClientListResponse: {},
	schema.MsgErrorResponse:      {},
}

// Encode serializes msg into one self-describing frame. The same logical
// value always yields the same bytes.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrEncoding)
	}
	fields, err := msg.fields()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	if err := schema.Validate(msg.MessageType(), fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	payload, err := tlv.EncodeFields(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	var flags uint32
	if _, ok := responseTypes[msg.MessageType()]; ok {
		flags |= frame.FlagIsResponse
	}
	if msg.MessageType() == schema.MsgErrorResponse {
		flags |= frame.FlagIsError
	}
	b, err := frame.Marshal(frame.Frame{
		Header: frame.Header{
			MessageType: msg.MessageType(),
			Flags:       flags,
		},
		Payload: payload,
	}, frame.DefaultLimits())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return b, nil
}

func (m Text) fields() ([]tlv.Field, error) {
	return []tlv.Field{tlv.String(schema.FieldText, m.Value)}, nil
}

func (m Number) fields() ([]tlv.Field, error) {
	return []tlv.Field{tlv.I64(schema.FieldNumber, m.Value)}, nil
}

func (m Real) fields() ([]tlv.Field, error) {
	return []tlv.Field{tlv.F64(schema.FieldReal, m.Value)}, nil
}

func (m Bytes) fields() ([]tlv.Field, error) {
	return []tlv.Field{tlv.Bytes(schema.FieldData, m.Value)}, nil
}

func (m Record) fields() ([]tlv.Field, error) {
	out := []tlv.Field{tlv.String(schema.FieldName, m.Name)}
	for _, attr := range m.Attributes {
		rec, err := tlv.Record(schema.FieldAttribute, []tlv.Field{
			tlv.String(schema.FieldKey, attr.Key),
			tlv.String(schema.FieldValue, attr.Value),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m Nested) fields() ([]tlv.Field, error) {
	if m.Inner == nil {
		return nil, fmt.Errorf("nested message is nil")
	}
	inner, err := Encode(m.Inner)
	if err != nil {
		return nil, err
	}
	return []tlv.Field{tlv.Bytes(schema.FieldInner, inner)}, nil
}

func (m ServerTypeRequest) fields() ([]tlv.Field, error) {
	return []tlv.Field{tlv.String(schema.FieldRequestID, m.RequestID)}, nil
}

func (m ServerTypeResponse) fields() ([]tlv.Field, error) {
	return []tlv.Field{
		tlv.String(schema.FieldRequestID, m.RequestID),
		tlv.U8(schema.FieldServerKind, uint8(m.Kind)),
	}, nil
}

func (m FileListRequest) fields() ([]tlv.Field, error) {
	return []tlv.Field{tlv.String(schema.FieldRequestID, m.RequestID)}, nil
}

func (m FileListResponse) fields() ([]tlv.Field, error) {
	out := []tlv.Field{tlv.String(schema.FieldRequestID, m.RequestID)}
	for _, id := range m.FileIDs {
		out = append(out, tlv.String(schema.FieldFileID, id))
	}
	return out, nil
}

func (m FileRequest) fields() ([]tlv.Field, error) {
	return []tlv.Field{
		tlv.String(schema.FieldRequestID, m.RequestID),
		tlv.String(schema.FieldFileID, m.FileID),
	}, nil
}

func (m FileResponse) fields() ([]tlv.Field, error) {
	return []tlv.Field{
		tlv.String(schema.FieldRequestID, m.RequestID),
		tlv.String(schema.FieldFileID, m.FileID),
		tlv.String(schema.FieldText, m.Content),
	}, nil
}

func (m MediaRequest) fields() ([]tlv.Field, error) {
	return []tlv.Field{
		tlv.String(schema.FieldRequestID, m.RequestID),
		tlv.String(schema.FieldMediaID, m.MediaID),
	}, nil
}

func (m MediaResponse) fields() ([]tlv.Field, error) {
	return []tlv.Field{
		tlv.String(schema.FieldRequestID, m.RequestID),
		tlv.String(schema.FieldMediaID, m.MediaID),
		tlv.Bytes(schema.FieldData, m.Data),
	}, nil
}

func (m RegisterRequest) fields() ([]tlv.Field, error) {
	return []tlv.Field{tlv.String(schema.FieldRequestID, m.RequestID)}, nil
}

func (m RegisterResponse) fields() ([]tlv.Field, error) {
	out := []tlv.Field{
		tlv.String(schema.FieldRequestID, m.RequestID),
		tlv.Bool(schema.FieldAccepted, m.Accepted),
	}
	if m.Reason != "" {
		out = append(out, tlv.String(schema.FieldReason, m.Reason))
	}
	return out, nil
}

func (m ClientListRequest) fields() ([]tlv.Field, error) {
	return []tlv.Field{tlv.String(schema.FieldRequestID, m.RequestID)}, nil
}

func (m ClientListResponse) fields() ([]tlv.Field, error) {
	out := []tlv.Field{tlv.String(schema.FieldRequestID, m.RequestID)}
	for _, id := range m.Clients {
		out = append(out, tlv.U8(schema.FieldClientID, uint8(id)))
	}
	return out, nil
}

func (m ChatMessage) fields() ([]tlv.Field, error) {
	return []tlv.Field{
		tlv.String(schema.FieldRequestID, m.RequestID),
		tlv.U8(schema.FieldTo, uint8(m.To)),
		tlv.String(schema.FieldText, m.Text),
	}, nil
}

func (m ChatDelivery) fields() ([]tlv.Field, error) {
	return []tlv.Field{
		tlv.U8(schema.FieldFrom, uint8(m.From)),
		tlv.String(schema.FieldText, m.Text),
	}, nil
}

func (m ErrorResponse) fields() ([]tlv.Field, error) {
	return []tlv.Field{
		tlv.String(schema.FieldRequestID, m.RequestID),
		tlv.String(schema.FieldReason, m.Reason),
	}, nil
}
