package domain

import (
	"errors"
	"strings"
)

// RoomCodeLen is the number of digits a frequency needs before a channel exists.
const RoomCodeLen = 4

var (
	ErrRoomCodeLength = errors.New("room code must have 4 digits")
	ErrRoomCodeDigits = errors.New("room code must be numeric")
)

// RoomCode names a presence channel. Only complete codes are valid.
type RoomCode string

func ParseRoomCode(s string) (RoomCode, error) {
	s = strings.TrimSpace(s)
	if len(s) != RoomCodeLen {
		return "", ErrRoomCodeLength
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", ErrRoomCodeDigits
		}
	}
	return RoomCode(s), nil
}

func (c RoomCode) Valid() bool {
	_, err := ParseRoomCode(string(c))
	return err == nil
}

// ChannelName is the presence channel bound to the code. By convention it is the code itself.
func (c RoomCode) ChannelName() string { return string(c) }
