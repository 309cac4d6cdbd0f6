package protocol

// MaxFrameSize bounds a single frame body: one data chunk plus room for the
// field tags, or a header with a long file name.
const (
	ChunkSize    = 32 * 1024
	MaxFrameSize = ChunkSize + 4*1024
	lengthSize   = 4
)

type MessageType uint16

const (
	MsgHeartbeat MessageType = 0x0001
	MsgHeader    MessageType = 0x0010
	MsgData      MessageType = 0x0011
	MsgDataEnd   MessageType = 0x0012
	MsgFin       MessageType = 0x0020
	MsgError     MessageType = 0x00FF
)

func (t MessageType) String() string {
	switch t {
	case MsgHeartbeat:
		return "HEARTBEAT"
	case MsgHeader:
		return "HEADER"
	case MsgData:
		return "DATA"
	case MsgDataEnd:
		return "DATA_END"
	case MsgFin:
		return "FIN"
	case MsgError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

type ErrorCode uint16

const (
	ErrUnknown    ErrorCode = 0x0000
	ErrInvalidMsg ErrorCode = 0x0001
	ErrBusy       ErrorCode = 0x0002
	ErrWrite      ErrorCode = 0x0003
	ErrInternal   ErrorCode = 0x00FF
)

func (e ErrorCode) String() string {
	switch e {
	case ErrInvalidMsg:
		return "INVALID_MESSAGE"
	case ErrBusy:
		return "BUSY"
	case ErrWrite:
		return "WRITE_FAILED"
	case ErrInternal:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}
