package wsproto

import (
	"encoding/binary"
	"fmt"
)

// MultiplexMagic is the 2-byte prefix that marks a binary WebSocket frame as
// a multiplexed frame rather than an opaque binary payload (spec §6.1).
var MultiplexMagic = [2]byte{'P', 'X'}

// multiplexHeaderLen is the fixed 24-byte header size: magic(2) + version(1)
// + channel(1) + messageType(1) + flags(1) + streamId(4) + offset(8) +
// payloadLen(4) = 22, followed by 2 zero padding bytes to reach 24.
const multiplexHeaderLen = 24

// Channel identifies which subsystem a multiplexed frame belongs to.
type Channel uint8

const (
	ChannelTerminal Channel = 1
	ChannelFile     Channel = 2
)

// MultiplexMessageType identifies the frame's payload kind within a Channel.
type MultiplexMessageType uint8

const (
	MessageTypeOutputUTF8 MultiplexMessageType = 1
	MessageTypeAck        MultiplexMessageType = 2
)

// MultiplexFrame is one decoded binary multiplex frame.
type MultiplexFrame struct {
	Version     uint8
	Channel     Channel
	MessageType MultiplexMessageType
	Flags       uint8
	StreamID    uint32
	Offset      uint64
	Payload     []byte
}

// IsMultiplexFrame reports whether data begins with the "PX" magic.
func IsMultiplexFrame(data []byte) bool {
	return len(data) >= 2 && data[0] == MultiplexMagic[0] && data[1] == MultiplexMagic[1]
}

// EncodeMultiplexFrame serializes f into its wire form.
func EncodeMultiplexFrame(f MultiplexFrame) []byte {
	buf := make([]byte, multiplexHeaderLen+len(f.Payload))
	buf[0] = MultiplexMagic[0]
	buf[1] = MultiplexMagic[1]
	buf[2] = f.Version
	buf[3] = byte(f.Channel)
	buf[4] = byte(f.MessageType)
	buf[5] = f.Flags
	binary.BigEndian.PutUint32(buf[6:10], f.StreamID)
	binary.BigEndian.PutUint64(buf[10:18], f.Offset)
	binary.BigEndian.PutUint32(buf[18:22], uint32(len(f.Payload)))
	copy(buf[multiplexHeaderLen:], f.Payload)
	return buf
}

// DecodeMultiplexFrame parses a wire-format multiplex frame.
func DecodeMultiplexFrame(data []byte) (MultiplexFrame, error) {
	if len(data) < multiplexHeaderLen {
		return MultiplexFrame{}, fmt.Errorf("wsproto: multiplex frame too short: %d bytes", len(data))
	}
	if !IsMultiplexFrame(data) {
		return MultiplexFrame{}, fmt.Errorf("wsproto: missing PX magic")
	}

	payloadLen := binary.BigEndian.Uint32(data[18:22])
	if uint32(len(data)-multiplexHeaderLen) < payloadLen {
		return MultiplexFrame{}, fmt.Errorf("wsproto: multiplex frame payload truncated")
	}

	return MultiplexFrame{
		Version:     data[2],
		Channel:     Channel(data[3]),
		MessageType: MultiplexMessageType(data[4]),
		Flags:       data[5],
		StreamID:    binary.BigEndian.Uint32(data[6:10]),
		Offset:      binary.BigEndian.Uint64(data[10:18]),
		Payload:     append([]byte(nil), data[multiplexHeaderLen:multiplexHeaderLen+payloadLen]...),
	}, nil
}
