package internal

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// TestSizeBytes tests the SizeBytes method
func TestSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		expected int
	}{
		{
			name: "Command with key and value",
			command: Command{
				Type:     CommandTSetIfUnset,
				Key:      "testkey",
				IssuedAt: 100,
				DeleteAt: 200,
				Value:    []byte("testvalue"),
			},
			expected: 1 + 8 + 8 + 4 + 7 + 9,
		},
		{
			name: "Command without value",
			command: Command{
				Type: CommandTDelete,
				Key:  "k",
			},
			expected: 1 + 8 + 8 + 4 + 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if size := tt.command.SizeBytes(); size != tt.expected {
				t.Errorf("SizeBytes() = %v, want %v", size, tt.expected)
			}
		})
	}
}

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{
			name: "Set with value",
			command: Command{
				Type:     CommandTSet,
				Key:      "study/1/trial/0",
				IssuedAt: 1700000000000,
				Value:    []byte("payload"),
			},
		},
		{
			name: "SetIfUnset with deadline",
			command: Command{
				Type:     CommandTSetIfUnset,
				Key:      "lock:dump",
				IssuedAt: 1700000000000,
				DeleteAt: 1700000030000,
				Value:    []byte("owner"),
			},
		},
		{
			name:    "Delete without value",
			command: Command{Type: CommandTDelete, Key: "gone"},
		},
		{
			name:    "Empty key",
			command: Command{Type: CommandTSet, Key: "", Value: []byte("v")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.command.Serialize()
			if len(data) != tt.command.SizeBytes() {
				t.Fatalf("Serialize() produced %d bytes, want %d", len(data), tt.command.SizeBytes())
			}

			var got Command
			if err := got.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}
			if got.Type != tt.command.Type || got.Key != tt.command.Key ||
				got.IssuedAt != tt.command.IssuedAt || got.DeleteAt != tt.command.DeleteAt {
				t.Errorf("Deserialize() = %+v, want %+v", got, tt.command)
			}
			if !bytes.Equal(got.Value, tt.command.Value) {
				t.Errorf("Value = %q, want %q", got.Value, tt.command.Value)
			}
		})
	}
}

// TestDeserializeErrors tests truncated input
func TestDeserializeErrors(t *testing.T) {
	var cmd Command
	if err := cmd.Deserialize(make([]byte, headerSize-1)); err == nil {
		t.Error("expected error for short header")
	}

	data := make([]byte, headerSize+2)
	binary.BigEndian.PutUint32(data[17:21], 10)
	if err := cmd.Deserialize(data); err == nil {
		t.Error("expected error for truncated key")
	}
}

// TestDeserializeCopiesValue ensures the command does not alias the input buffer
func TestDeserializeCopiesValue(t *testing.T) {
	src := Command{Type: CommandTSet, Key: "k", Value: []byte("abc")}
	data := src.Serialize()

	var cmd Command
	if err := cmd.Deserialize(data); err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] = 'X'
	if string(cmd.Value) != "abc" {
		t.Errorf("value changed with input buffer: %q", cmd.Value)
	}
}
