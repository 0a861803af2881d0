// Package msgs defines the packets exchanged with a bridge.
package msgs

import (
	"fmt"

	"github.com/golang/protobuf/proto"
)

// TypeIDs
const (
	CallRequestTypeID uint32 = 0x0001
	CallReplyTypeID   uint32 = 0x8001
)

// ErrUnknownType indicates unknown type id.
type ErrUnknownType struct {
	TypeID uint32
}

// Error implements error.
func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown type: %x", e.TypeID)
}

var messageTypes = map[uint32]func() proto.Message{
	CallRequestTypeID: func() proto.Message { return &CallRequest{} },
	CallReplyTypeID:   func() proto.Message { return &CallReply{} },
}

// TypeIDOf returns the type id of a known message.
func TypeIDOf(msg proto.Message) (uint32, error) {
	switch msg.(type) {
	case *CallRequest:
		return CallRequestTypeID, nil
	case *CallReply:
		return CallReplyTypeID, nil
	}
	return 0, fmt.Errorf("%T: %w", msg, &ErrUnknownType{})
}

// Encode wraps msg in Typed and encodes it to bytes.
func Encode(msg proto.Message) ([]byte, error) {
	typeID, err := TypeIDOf(msg)
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(&Typed{TypeId: typeID, Message: data})
}

// Decode decodes bytes into the wrapped message.
func Decode(pkt []byte) (proto.Message, error) {
	var typed Typed
	if err := proto.Unmarshal(pkt, &typed); err != nil {
		return nil, err
	}
	newMsg, ok := messageTypes[typed.TypeId]
	if !ok {
		return nil, &ErrUnknownType{TypeID: typed.TypeId}
	}
	msg := newMsg()
	if err := proto.Unmarshal(typed.Message, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
