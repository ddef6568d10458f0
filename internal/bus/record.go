// Package bus provides Exclave's two messaging fabrics: the one-to-many
// broadcast bus that fans log and state records out to loggers, interfaces,
// and the console, and the many-to-one control bus that funnels commands from
// triggers and interfaces into the scenario engine.
package bus

import (
	"time"

	"github.com/exclave/exclave/internal/unit"
)

// MessageType classifies a broadcast record. The numeric values are part of
// the JSON framing and must not be reordered.
type MessageType int

const (
	TypeLog        MessageType = 0
	TypeRunning    MessageType = 1
	TypePass       MessageType = 2
	TypeFail       MessageType = 3
	TypeDaemonized MessageType = 4
	TypeSkip       MessageType = 5
	TypeFinish     MessageType = 6
	TypeShutdown   MessageType = 7
	TypeHello      MessageType = 8
	TypePing       MessageType = 9
	TypeStart      MessageType = 10
)

// String returns the protocol verb for the message type.
func (t MessageType) String() string {
	switch t {
	case TypeLog:
		return "LOG"
	case TypeRunning:
		return "RUNNING"
	case TypePass:
		return "PASS"
	case TypeFail:
		return "FAIL"
	case TypeDaemonized:
		return "DAEMONIZED"
	case TypeSkip:
		return "SKIP"
	case TypeFinish:
		return "FINISH"
	case TypeShutdown:
		return "SHUTDOWN"
	case TypeHello:
		return "HELLO"
	case TypePing:
		return "PING"
	case TypeStart:
		return "START"
	}
	return "UNKNOWN"
}

// Record classes for log-type records.
const (
	ClassStdout = "stdout"
	ClassStderr = "stderr"
	ClassInfo   = "info"
	ClassError  = "error"
)

// Record is one event on the broadcast bus.
type Record struct {
	Type MessageType

	// Unit names the record's source: a test, scenario, or an internal
	// component such as "main".
	Unit unit.Name

	// At is when the record was produced.
	At time.Time

	// Message carries the payload: a log line, a failure reason, or a
	// FINISH code plus scenario.
	Message string

	// Class refines log records (stdout, stderr, info, error). It is not
	// part of the wire framings; the console and telemetry use it.
	Class string
}

// NewRecord stamps a record with the current time.
func NewRecord(t MessageType, u unit.Name, message string) Record {
	return Record{Type: t, Unit: u, At: time.Now(), Message: message}
}

// NewLog builds an info-class log record.
func NewLog(u unit.Name, message string) Record {
	r := NewRecord(TypeLog, u, message)
	r.Class = ClassInfo
	return r
}

// NewLogError builds an error-class log record.
func NewLogError(u unit.Name, message string) Record {
	r := NewRecord(TypeLog, u, message)
	r.Class = ClassError
	return r
}
