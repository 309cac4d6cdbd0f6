package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

const (
	fieldType   protowire.Number = 1
	fieldName   protowire.Number = 2
	fieldSize   protowire.Number = 3
	fieldSender protowire.Number = 4
	fieldData   protowire.Number = 5
	fieldCode   protowire.Number = 6
)

// Codec frames messages as a big-endian uint32 length followed by the
// protobuf wire encoding of the envelope.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) Encode(w io.Writer, msg *Message) error {
	data, err := c.EncodeToBytes(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (c *Codec) Decode(r io.Reader) (*Message, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("decoding %d byte frame: %w", length, ErrFrameTooLarge)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return unmarshal(body)
}

func (c *Codec) EncodeToBytes(msg *Message) ([]byte, error) {
	body := marshal(msg)
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("encoding %s: %w", msg.Type, ErrFrameTooLarge)
	}

	out := make([]byte, lengthSize, lengthSize+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...), nil
}

func (c *Codec) DecodeFromBytes(data []byte) (*Message, error) {
	return c.Decode(bytes.NewReader(data))
}

func marshal(msg *Message) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Type))
	if msg.Name != "" {
		b = protowire.AppendTag(b, fieldName, protowire.BytesType)
		b = protowire.AppendString(b, msg.Name)
	}
	if msg.Size != 0 {
		b = protowire.AppendTag(b, fieldSize, protowire.VarintType)
		b = protowire.AppendVarint(b, msg.Size)
	}
	if msg.Sender != "" {
		b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
		b = protowire.AppendString(b, msg.Sender)
	}
	if len(msg.Data) > 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, msg.Data)
	}
	if msg.Code != ErrUnknown {
		b = protowire.AppendTag(b, fieldCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(msg.Code))
	}
	return b
}

func unmarshal(b []byte) (*Message, error) {
	msg := &Message{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("parsing tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("parsing type: %w", protowire.ParseError(n))
			}
			msg.Type = MessageType(v)
			b = b[n:]
		case num == fieldName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("parsing name: %w", protowire.ParseError(n))
			}
			msg.Name = v
			b = b[n:]
		case num == fieldSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("parsing size: %w", protowire.ParseError(n))
			}
			msg.Size = v
			b = b[n:]
		case num == fieldSender && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("parsing sender: %w", protowire.ParseError(n))
			}
			msg.Sender = v
			b = b[n:]
		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("parsing data: %w", protowire.ParseError(n))
			}
			msg.Data = v
			b = b[n:]
		case num == fieldCode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("parsing code: %w", protowire.ParseError(n))
			}
			msg.Code = ErrorCode(v)
			b = b[n:]
		default:
			// unknown fields are skipped
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return msg, nil
}
