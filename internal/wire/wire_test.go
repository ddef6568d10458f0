package wire

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/exclave/exclave/internal/bus"
	"github.com/exclave/exclave/internal/unit"
)

func TestEscapeRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []string{
		"plain",
		"tab\there",
		"line\nbreak",
		`back\slash`,
		"all\t\n\\three",
		"",
	}
	for _, in := range cases {
		esc := Escape(in)
		if strings.ContainsAny(esc, "\t\n") {
			t.Errorf("Escape(%q) = %q still contains raw separators", in, esc)
		}
		if got := Unescape(esc); got != in {
			t.Errorf("round trip of %q: got %q", in, got)
		}
	}
}

func TestEncodeTSV(t *testing.T) {
	t.Parallel()
	at := time.Unix(1700000000, 123456789)
	r := bus.Record{
		Type:    bus.TypePass,
		Unit:    unit.Name{ID: "led", Kind: unit.KindTest},
		At:      at,
		Message: "blinked\tok",
	}
	line := EncodeTSV(r)
	if !strings.HasSuffix(line, "\n") {
		t.Fatal("TSV records are newline-terminated")
	}
	fields := strings.Split(strings.TrimSuffix(line, "\n"), "\t")
	want := []string{"2", "led", "test", "1700000000", "123456789", `blinked\tok`}
	if len(fields) != len(want) {
		t.Fatalf("fields = %v", fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("field %d = %q, want %q", i, fields[i], want[i])
		}
	}
}

func TestEncodeJSON(t *testing.T) {
	t.Parallel()
	at := time.Unix(1700000000, 42)
	r := bus.Record{
		Type:    bus.TypeFail,
		Unit:    unit.Name{ID: "sound", Kind: unit.KindTest},
		At:      at,
		Message: "exit code 1\nstderr tail",
	}
	out, err := EncodeJSON(r)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	if !strings.HasSuffix(string(out), "\n") {
		t.Fatal("JSON records are newline-terminated")
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["message_type"] != float64(3) {
		t.Errorf("message_type = %v", decoded["message_type"])
	}
	if decoded["unit"] != "sound" || decoded["unit_type"] != "test" {
		t.Errorf("unit fields = %v %v", decoded["unit"], decoded["unit_type"])
	}
	if decoded["message"] != "exit code 1\nstderr tail" {
		t.Errorf("message = %q, must be unescaped", decoded["message"])
	}
	if decoded["unix_time"] != float64(1700000000) || decoded["unix_time_nsecs"] != float64(42) {
		t.Errorf("time fields = %v %v", decoded["unix_time"], decoded["unix_time_nsecs"])
	}
}

func TestParseLine(t *testing.T) {
	t.Parallel()
	l := ParseLine("START smoke")
	if l.Verb != "start" || l.Arg(0) != "smoke" {
		t.Errorf("got %+v", l)
	}

	l = ParseLine("PONG 12345")
	if l.Verb != "pong" || l.Arg(0) != "12345" {
		t.Errorf("got %+v", l)
	}

	// Verbs are case-insensitive; arguments are unescaped.
	l = ParseLine("Log a\\tb message")
	if l.Verb != "log" || l.Rest() != "a\tb message" {
		t.Errorf("got verb %q rest %q", l.Verb, l.Rest())
	}

	if l := ParseLine("   "); l.Verb != "" {
		t.Errorf("blank line should parse to empty verb, got %+v", l)
	}

	// Missing arguments read as empty strings, never panic.
	if ParseLine("abort").Arg(3) != "" {
		t.Error("Arg out of range should be empty")
	}
}
