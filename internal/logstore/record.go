package logstore

import "time"

// RecordKind is the persisted label of a log record.
type RecordKind string

const (
	RecordCommand RecordKind = "command"
	RecordOutput  RecordKind = "output"
	// RecordRaw marks records written while filtering is disabled.
	RecordRaw RecordKind = "raw"
)

// Record is one line of a session's persisted interaction log.
// Raw carries the original bytes; Clean is the control-sequence-stripped
// text and is only set when the record was classified.
type Record struct {
	Timestamp time.Time  `json:"ts"`
	Kind      RecordKind `json:"kind"`
	Raw       []byte     `json:"raw"`
	Clean     string     `json:"clean,omitempty"`
}

// Stats summarizes a session's persisted log.
type Stats struct {
	RecordCount   int       `json:"record_count"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	Oldest        time.Time `json:"oldest,omitempty"`
	Newest        time.Time `json:"newest,omitempty"`
}
