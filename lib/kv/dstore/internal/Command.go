package internal

import (
	"encoding/binary"
	"fmt"
)

// CommandType defines the possible write operations for the state machine.
type CommandType uint8

const (
	CommandTSet        CommandType = iota // Insert or update an entry.
	CommandTSetIfUnset                    // Insert an entry if no live entry exists.
	CommandTDelete                        // Delete an entry.
	CommandTDeleteIfEqual                 // Delete an entry if it holds Value.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTSet:
		return "Set"
	case CommandTSetIfUnset:
		return "SetIfUnset"
	case CommandTDelete:
		return "Delete"
	case CommandTDeleteIfEqual:
		return "DeleteIfEqual"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// headerSize is Type + IssuedAt + DeleteAt + KeyLen
const headerSize = 1 + 8 + 8 + 4

// Command represents a command to be executed by the state machine (a single entry in the raft log)
type Command struct {
	Type CommandType
	Key  string
	// IssuedAt is the proposer's clock (unix milliseconds). Every replica
	// evaluates expiry against it, which keeps Update deterministic.
	IssuedAt int64
	// DeleteAt is the absolute deletion deadline (unix milliseconds), 0 for none.
	DeleteAt int64
	Value    []byte
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return headerSize + len(command.Key) + len(command.Value)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 8 bytes for issuedAt,
// 8 bytes for deleteAt,
// 4 bytes for key length (big endian),
// N bytes for key data,
// N bytes for value data (optional)
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	binary.BigEndian.PutUint64(result[1:9], uint64(command.IssuedAt))
	binary.BigEndian.PutUint64(result[9:17], uint64(command.DeleteAt))
	binary.BigEndian.PutUint32(result[17:21], uint32(len(command.Key)))

	n := copy(result[headerSize:], command.Key)
	copy(result[headerSize+n:], command.Value)

	return result
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.IssuedAt = int64(binary.BigEndian.Uint64(data[1:9]))
	command.DeleteAt = int64(binary.BigEndian.Uint64(data[9:17]))
	keyLen := int(binary.BigEndian.Uint32(data[17:21]))

	if len(data) < headerSize+keyLen {
		return fmt.Errorf("data too short for key of length %d", keyLen)
	}
	command.Key = string(data[headerSize : headerSize+keyLen])

	if rest := data[headerSize+keyLen:]; len(rest) > 0 {
		command.Value = make([]byte, len(rest))
		copy(command.Value, rest)
	} else {
		command.Value = nil
	}

	return nil
}
