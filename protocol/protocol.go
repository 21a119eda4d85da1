// Package protocol implements the step link: a framed, CRC checked stream of
// VLQ encoded step, direction and event messages sent from the host to a
// step/dir bridge board.
package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// Frame layout: [len][seq][messages...][crc hi][crc lo][sync]
const (
	FrameHeaderSize  = 2
	FrameTrailerSize = 3
	FrameMin         = FrameHeaderSize + FrameTrailerSize
	FrameMax         = 64

	framePosLen     = 0
	framePosSeq     = 1
	frameTrailerCRC = 3

	SyncByte = 0x7E
	SeqDest  = 0x10
	SeqMask  = 0x0F
)

var (
	ErrInvalidVLQ     = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("buffer too small for VLQ")
	ErrFrameTooLong   = errors.New("messages do not fit in one frame")
	ErrUnknownMessage = errors.New("unknown message id")
)

// MsgID identifies a step link message
type MsgID uint8

const (
	MsgStep   MsgID = iota + 1 // axis
	MsgSetDir                  // axis, direction (+1/-1)
	MsgEvent                   // axis, event code
)

func (id MsgID) String() string {
	switch id {
	case MsgStep:
		return "step"
	case MsgSetDir:
		return "set_dir"
	case MsgEvent:
		return "event"
	default:
		return fmt.Sprintf("MsgID(%d)", uint8(id))
	}
}

// Message is one decoded step link message. Value is unused by MsgStep.
type Message struct {
	ID    MsgID
	Axis  uint8
	Value int32
}

func (m Message) hasValue() bool {
	return m.ID != MsgStep
}

func appendMessage(dst []byte, m Message) []byte {
	dst = AppendVLQUint(dst, uint32(m.ID))
	dst = AppendVLQUint(dst, uint32(m.Axis))
	if m.hasValue() {
		dst = AppendVLQInt(dst, m.Value)
	}
	return dst
}

func decodeMessage(data *[]byte) (Message, error) {
	id, err := DecodeVLQUint(data)
	if err != nil {
		return Message{}, err
	}
	m := Message{ID: MsgID(id)}
	switch m.ID {
	case MsgStep, MsgSetDir, MsgEvent:
	default:
		return Message{}, errors.Wrapf(ErrUnknownMessage, "id %d", id)
	}

	axis, err := DecodeVLQUint(data)
	if err != nil {
		return Message{}, err
	}
	m.Axis = uint8(axis)

	if m.hasValue() {
		if m.Value, err = DecodeVLQInt(data); err != nil {
			return Message{}, err
		}
	}
	return m, nil
}
