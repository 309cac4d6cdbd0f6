package protocol

// Message is the single envelope exchanged between peers. Which fields are
// meaningful depends on Type.
type Message struct {
	Type   MessageType
	Name   string
	Size   uint64
	Sender string
	Data   []byte
	Code   ErrorCode
}

func Heartbeat() *Message {
	return &Message{Type: MsgHeartbeat}
}

func Header(name string, size uint64, sender string) *Message {
	return &Message{Type: MsgHeader, Name: name, Size: size, Sender: sender}
}

func Data(chunk []byte) *Message {
	return &Message{Type: MsgData, Data: chunk}
}

func DataEnd() *Message {
	return &Message{Type: MsgDataEnd}
}

func Fin(sender string) *Message {
	return &Message{Type: MsgFin, Sender: sender}
}

func Error(code ErrorCode, msg string) *Message {
	return &Message{Type: MsgError, Code: code, Name: msg}
}
