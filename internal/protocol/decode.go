package protocol

import (
	"fmt"

	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/protocol/frame"
	"github.com/danmuck/dronenet/internal/protocol/schema"
	"github.com/danmuck/dronenet/internal/protocol/tlv"
)

const maxNesting = 8

type decoder func(fields []tlv.Field, depth int) (Message, error)

var decoders = map[uint32]decoder{
	schema.MsgText: func(f []tlv.Field, _ int) (Message, error) {
		v, err := requiredString(f, schema.FieldText)
		return Text{Value: v}, err
	},
	schema.MsgNumber: func(f []tlv.Field, _ int) (Message, error) {
		field, _ := tlv.GetField(f, schema.FieldNumber)
		v, err := field.AsI64()
		return Number{Value: v}, err
	},
	schema.MsgReal: func(f []tlv.Field, _ int) (Message, error) {
		field, _ := tlv.GetField(f, schema.FieldReal)
		v, err := field.AsF64()
		return Real{Value: v}, err
	},
	schema.MsgBytes: func(f []tlv.Field, _ int) (Message, error) {
		v, err := requiredBytes(f, schema.FieldData)
		return Bytes{Value: v}, err
	},
	schema.MsgRecord: decodeRecord,
	schema.MsgServerTypeRequest: func(f []tlv.Field, _ int) (Message, error) {
		id, err := requiredString(f, schema.FieldRequestID)
		return ServerTypeRequest{RequestID: id}, err
	},
	schema.MsgServerTypeResponse: func(f []tlv.Field, _ int) (Message, error) {
		id, err := requiredString(f, schema.FieldRequestID)
		if err != nil {
			return nil, err
		}
		field, _ := tlv.GetField(f, schema.FieldServerKind)
		kind, err := field.AsU8()
		return ServerTypeResponse{RequestID: id, Kind: network.ServerKind(kind)}, err
	},
	schema.MsgFileListRequest: func(f []tlv.Field, _ int) (Message, error) {
		id, err := requiredString(f, schema.FieldRequestID)
		return FileListRequest{RequestID: id}, err
	},
	schema.MsgFileListResponse: func(f []tlv.Field, _ int) (Message, error) {
		id, err := requiredString(f, schema.FieldRequestID)
		if err != nil {
			return nil, err
		}
		files, err := repeatedStrings(f, schema.FieldFileID)
		return FileListResponse{RequestID: id, FileIDs: files}, err
	},
	schema.MsgFileRequest: func(f []tlv.Field, _ int) (Message, error) {
		id, err := requiredString(f, schema.FieldRequestID)
		if err != nil {
			return nil, err
		}
		file, err := requiredString(f, schema.FieldFileID)
		return FileRequest{RequestID: id, FileID: file}, err
	},
	schema.MsgFileResponse: func(f []tlv.Field, _ int) (Message, error) {
		id, err := requiredString(f, schema.FieldRequestID)
		if err != nil {
			return nil, err
		}
		file, err := requiredString(f, schema.FieldFileID)
		if err != nil {
			return nil, err
		}
		content, err := requiredString(f, schema.FieldText)
		return FileResponse{RequestID: id, FileID: file, Content: content}, err
	},
	schema.MsgMediaRequest: func(f []tlv.Field, _ int) (Message, error) {
		id, err := requiredString(f, schema.FieldRequestID)
		if err != nil {
			return nil, err
		}
		media, err := requiredString(f, schema.FieldMediaID)
		return MediaRequest{RequestID: id, MediaID: media}, err
	},
	schema.MsgMediaResponse: func(f []tlv.Field, _ int) (Message, error) {
		id, err := requiredString(f, schema.FieldRequestID)
		if err != nil {
			return nil, err
		}
		media, err := requiredString(f, schema.FieldMediaID)
		if err != nil {
			return nil, err
		}
		data, err := requiredBytes(f, schema.FieldData)
		return MediaResponse{RequestID: id, MediaID: media, Data: data}, err
	},
	schema.MsgRegisterRequest: func(f []tlv.Field, _ int) (Message, error) {
		id, err := requiredString(f, schema.FieldRequestID)
		return RegisterRequest{RequestID: id}, err
	},
	schema.MsgRegisterResponse: func(f []tlv.Field, _ int) (Message, error) {
		id, err := requiredString(f, schema.FieldRequestID)
		if err != nil {
			return nil, err
		}
		field, _ := tlv.GetField(f, schema.FieldAccepted)
		accepted, err := field.AsBool()
		if err != nil {
			return nil, err
		}
		reason, err := optionalString(f, schema.FieldReason)
		return RegisterResponse{RequestID: id, Accepted: accepted, Reason: reason}, err
	},
	schema.MsgClientListRequest: func(f []tlv.Field, _ int) (Message, error) {
		id, err := requiredString(f, schema.FieldRequestID)
		return ClientListRequest{RequestID: id}, err
	},
	schema.MsgClientListResponse: func(f []tlv.Field, _ int) (Message, error) {
		id, err := requiredString(f, schema.FieldRequestID)
		if err != nil {
			return nil, err
		}
		var clients []network.NodeID
		for _, field := range tlv.GetFields(f, schema.FieldClientID) {
			v, err := field.AsU8()
			if err != nil {
				return nil, err
			}
			clients = append(clients, network.NodeID(v))
		}
		return ClientListResponse{RequestID: id, Clients: clients}, nil
	},
	schema.MsgChatMessage: func(f []tlv.Field, _ int) (Message, error) {
		id, err := requiredString(f, schema.FieldRequestID)
		if err != nil {
			return nil, err
		}
		field, _ := tlv.GetField(f, schema.FieldTo)
		to, err := field.AsU8()
		if err != nil {
			return nil, err
		}
		text, err := requiredString(f, schema.FieldText)
		return ChatMessage{RequestID: id, To: network.NodeID(to), Text: text}, err
	},
	schema.MsgChatDelivery: func(f []tlv.Field, _ int) (Message, error) {
		field, _ := tlv.GetField(f, schema.FieldFrom)
		from, err := field.AsU8()
		if err != nil {
			return nil, err
		}
		text, err := requiredString(f, schema.FieldText)
		return ChatDelivery{From: network.NodeID(from), Text: text}, err
	},
	schema.MsgErrorResponse: func(f []tlv.Field, _ int) (Message, error) {
		id, err := requiredString(f, schema.FieldRequestID)
		if err != nil {
			return nil, err
		}
		reason, err := requiredString(f, schema.FieldReason)
		return ErrorResponse{RequestID: id, Reason: reason}, err
	},
}

func init() {
	// registered here because decodeNested recurses through decoders
	decoders[schema.MsgNested] = decodeNested
}

// Decode deserializes one message previously produced by Encode.
func Decode(b []byte) (Message, error) {
	return decode(b, 0)
}

// DecodeAs decodes b and asserts the result is a T. A consumer expecting the
// wrong payload type gets an error wrapping both ErrDecoding and
// ErrMessageTypeMismatch.
func DecodeAs[T Message](b []byte) (T, error) {
	var zero T
	msg, err := Decode(b)
	if err != nil {
		return zero, err
	}
	out, ok := msg.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %w: got message_type=%d want %T", ErrDecoding, ErrMessageTypeMismatch, msg.MessageType(), zero)
	}
	return out, nil
}

func decode(b []byte, depth int) (Message, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, ErrNestingTooDeep)
	}
	f, err := frame.Unmarshal(b, frame.DefaultLimits())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	if err := schema.Validate(f.Header.MessageType, fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	dec, ok := decoders[f.Header.MessageType]
	if !ok {
		return nil, fmt.Errorf("%w: no decoder for message_type=%d", ErrDecoding, f.Header.MessageType)
	}
	msg, err := dec(fields, depth)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	return msg, nil
}

func decodeNested(f []tlv.Field, depth int) (Message, error) {
	inner, err := requiredBytes(f, schema.FieldInner)
	if err != nil {
		return nil, err
	}
	msg, err := decode(inner, depth+1)
	if err != nil {
		return nil, err
	}
	return Nested{Inner: msg}, nil
}

func decodeRecord(f []tlv.Field, _ int) (Message, error) {
	name, err := requiredString(f, schema.FieldName)
	if err != nil {
		return nil, err
	}
	rec := Record{Name: name}
	for _, field := range tlv.GetFields(f, schema.FieldAttribute) {
		inner, err := field.AsRecord()
		if err != nil {
			return nil, err
		}
		key, err := requiredString(inner, schema.FieldKey)
		if err != nil {
			return nil, err
		}
		value, err := requiredString(inner, schema.FieldValue)
		if err != nil {
			return nil, err
		}
		rec.Attributes = append(rec.Attributes, Attribute{Key: key, Value: value})
	}
	return rec, nil
}

func requiredString(fields []tlv.Field, id uint16) (string, error) {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return "", fmt.Errorf("missing field %d", id)
	}
	return f.AsString()
}

func optionalString(fields []tlv.Field, id uint16) (string, error) {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return "", nil
	}
	return f.AsString()
}

func requiredBytes(fields []tlv.Field, id uint16) ([]byte, error) {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return nil, fmt.Errorf("missing field %d", id)
	}
	return f.AsBytes()
}

func repeatedStrings(fields []tlv.Field, id uint16) ([]string, error) {
	var out []string
	for _, f := range tlv.GetFields(fields, id) {
		s, err := f.AsString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
