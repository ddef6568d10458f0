// Package wire implements the external framings Exclave speaks with its
// child processes: the tab-separated and JSON record encodings consumed by
// loggers, and the line-oriented verb protocol spoken with interfaces and
// triggers.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/exclave/exclave/internal/bus"
)

// Escape protects a message for the TSV framing: LF, TAB, and backslash are
// replaced with their two-character escapes. Everything else passes through.
func Escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Unescape reverses Escape.
func Unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// EncodeTSV renders one record as a tab-separated, newline-terminated line:
// message-type, unit, unit-type, unix seconds, unix nanoseconds, message.
// Only the message field is escaped.
func EncodeTSV(r bus.Record) string {
	return fmt.Sprintf("%d\t%s\t%s\t%d\t%d\t%s\n",
		int(r.Type), r.Unit.ID, r.Unit.Kind, r.At.Unix(), r.At.Nanosecond(), Escape(r.Message))
}

// jsonRecord is the JSON-lines framing of a record.
type jsonRecord struct {
	MessageType   int    `json:"message_type"`
	Unit          string `json:"unit"`
	UnitType      string `json:"unit_type"`
	UnixTime      int64  `json:"unix_time"`
	UnixTimeNsecs int64  `json:"unix_time_nsecs"`
	Message       string `json:"message"`
}

// EncodeJSON renders one record as a JSON object terminated by a newline.
// The message is carried unescaped; JSON's own string escaping applies.
func EncodeJSON(r bus.Record) ([]byte, error) {
	out, err := json.Marshal(jsonRecord{
		MessageType:   int(r.Type),
		Unit:          r.Unit.ID,
		UnitType:      string(r.Unit.Kind),
		UnixTime:      r.At.Unix(),
		UnixTimeNsecs: int64(r.At.Nanosecond()),
		Message:       r.Message,
	})
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Line is a parsed inbound protocol line: a lowercased verb plus its
// unescaped arguments.
type Line struct {
	Verb string
	Args []string
}

// Rest joins the arguments back into a free-form tail, for verbs like LOG
// whose argument is a message rather than a word list.
func (l Line) Rest() string {
	return strings.Join(l.Args, " ")
}

// Arg returns argument i, or "" when absent.
func (l Line) Arg(i int) string {
	if i < len(l.Args) {
		return l.Args[i]
	}
	return ""
}

// ParseLine splits one inbound line into verb and arguments. Verbs are
// case-insensitive; each word is unescaped independently. An empty line
// yields a Line with an empty verb.
func ParseLine(s string) Line {
	words := strings.Fields(s)
	if len(words) == 0 {
		return Line{}
	}
	args := make([]string, 0, len(words)-1)
	for _, w := range words[1:] {
		args = append(args, Unescape(w))
	}
	return Line{Verb: strings.ToLower(words[0]), Args: args}
}
