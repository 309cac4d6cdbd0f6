package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestCodecHeaderDataSequence(t *testing.T) {
	codec := NewCodec()
	var buf bytes.Buffer

	chunk := []byte("This is some chunk data for testing purposes.")
	require.NoError(t, codec.Encode(&buf, Header("report.pdf", 4096, "alice")))
	require.NoError(t, codec.Encode(&buf, Data(chunk)))
	require.NoError(t, codec.Encode(&buf, DataEnd()))

	header, err := codec.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgHeader, header.Type)
	assert.Equal(t, "report.pdf", header.Name)
	assert.Equal(t, uint64(4096), header.Size)
	assert.Equal(t, "alice", header.Sender)

	data, err := codec.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgData, data.Type)
	assert.True(t, bytes.Equal(chunk, data.Data), "chunk data mismatch")

	end, err := codec.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgDataEnd, end.Type)
	assert.Zero(t, buf.Len())
}

func TestCodecDecodeFromBytes(t *testing.T) {
	codec := NewCodec()

	data, err := codec.EncodeToBytes(Heartbeat())
	require.NoError(t, err)
	assert.Equal(t, uint32(len(data)-lengthSize), binary.BigEndian.Uint32(data))

	decoded, err := codec.DecodeFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, MsgHeartbeat, decoded.Type)
}

func TestCodecError(t *testing.T) {
	codec := NewCodec()

	data, err := codec.EncodeToBytes(Error(ErrBusy, "transfer already in progress"))
	require.NoError(t, err)

	decoded, err := codec.DecodeFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, MsgError, decoded.Type)
	assert.Equal(t, ErrBusy, decoded.Code)
	assert.Equal(t, "transfer already in progress", decoded.Name)
}

func TestCodecRejectsOversizedFrame(t *testing.T) {
	codec := NewCodec()

	_, err := codec.EncodeToBytes(Data(make([]byte, MaxFrameSize+1)))
	assert.True(t, errors.Is(err, ErrFrameTooLarge))

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(MaxFrameSize+1)))
	_, err = codec.Decode(&buf)
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
}

func TestCodecFrameLimitFitsChunkAndLongHeader(t *testing.T) {
	codec := NewCodec()

	chunk := bytes.Repeat([]byte{0xAB}, ChunkSize)
	var buf bytes.Buffer
	require.NoError(t, codec.Encode(&buf, Data(chunk)))
	decoded, err := codec.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, chunk, decoded.Data)

	name := strings.Repeat("n", 255)
	require.NoError(t, codec.Encode(&buf, Header(name, 1<<40, strings.Repeat("s", 255))))
	decoded, err = codec.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, name, decoded.Name)

	assert.Equal(t, 36*1024, MaxFrameSize)
}

func TestCodecTruncatedBody(t *testing.T) {
	codec := NewCodec()

	data, err := codec.EncodeToBytes(Header("a.txt", 10, "bob"))
	require.NoError(t, err)

	_, err = codec.DecodeFromBytes(data[:len(data)-2])
	assert.Error(t, err)
}

func TestCodecSkipsUnknownFields(t *testing.T) {
	var body []byte
	body = protowire.AppendTag(body, fieldType, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(MsgFin))
	body = protowire.AppendTag(body, 42, protowire.BytesType)
	body = protowire.AppendString(body, "from a newer peer")

	frame := make([]byte, lengthSize)
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	frame = append(frame, body...)

	msg, err := NewCodec().DecodeFromBytes(frame)
	require.NoError(t, err)
	assert.Equal(t, MsgFin, msg.Type)
}

func TestMessageTypeString(t *testing.T) {
	tests := []struct {
		typ      MessageType
		expected string
	}{
		{MsgHeartbeat, "HEARTBEAT"},
		{MsgHeader, "HEADER"},
		{MsgData, "DATA"},
		{MsgDataEnd, "DATA_END"},
		{MsgFin, "FIN"},
		{MsgError, "ERROR"},
		{MessageType(0x7777), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.expected {
			t.Errorf("MessageType(%#x).String() = %q, want %q", uint16(tt.typ), got, tt.expected)
		}
	}
}
