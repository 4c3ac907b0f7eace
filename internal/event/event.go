package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	FileCreated Type = iota + 1
	FileWritten
	FileTruncated
	FileRemoved
	FileRenamed
	CompactStarted
	CompactComplete
	CompactFailed
	Flushed
)

var typeNames = [...]string{
	FileCreated:     "FileCreated",
	FileWritten:     "FileWritten",
	FileTruncated:   "FileTruncated",
	FileRemoved:     "FileRemoved",
	FileRenamed:     "FileRenamed",
	CompactStarted:  "CompactStarted",
	CompactComplete: "CompactComplete",
	CompactFailed:   "CompactFailed",
	Flushed:         "Flushed",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Mutation reports whether t changes a file's name, size or contents.
func (t Type) Mutation() bool {
	return t >= FileCreated && t <= FileRenamed
}

// Event is a single filesystem mutation or maintenance event.
type Event struct {
	Type      Type
	Timestamp time.Time
	Name      string
	NewName   string // FileRenamed
	Offset    int64  // FileWritten
	Size      int64  // bytes written, new size, or bytes reclaimed
	Error     error
}
