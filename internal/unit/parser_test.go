package unit

import (
	"errors"
	"strings"
	"testing"
)

func TestParseFile_SectionsAndKeys(t *testing.T) {
	t.Parallel()
	f, err := ParseFile("led.test", []byte("[Test]\nName=LED\nExecStart=test-led\n"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	sec := f.Section("Test")
	if sec == nil {
		t.Fatal("expected [Test] section")
	}
	if v, ok := sec.Get("Name"); !ok || v != "LED" {
		t.Errorf("Name = %q, %v; want LED, true", v, ok)
	}
	if got := sec.Keys(); len(got) != 2 || got[0] != "Name" || got[1] != "ExecStart" {
		t.Errorf("Keys() = %v; want declaration order [Name ExecStart]", got)
	}
}

func TestParseFile_Comments(t *testing.T) {
	t.Parallel()
	f, err := ParseFile("a.test", []byte("# leading comment\n[Test]\n; semi comment\nExecStart=true\n"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if got := f.Section("Test").Keys(); len(got) != 1 {
		t.Errorf("expected one key, got %v", got)
	}
}

func TestParseFile_Continuation(t *testing.T) {
	t.Parallel()
	f, err := ParseFile("a.test", []byte("[Test]\nExecStart=run-part-one \\\n    --flag value\n"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	v, _ := f.Section("Test").Get("ExecStart")
	if v != "run-part-one --flag value" {
		t.Errorf("continuation value = %q", v)
	}
}

func TestParseFile_MissingEquals(t *testing.T) {
	t.Parallel()
	_, err := ParseFile("bad.test", []byte("[Test]\nnot a pair\n"))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if pe.Line != 2 {
		t.Errorf("Line = %d, want 2", pe.Line)
	}
}

func TestParseFile_DuplicateKeyLastWins(t *testing.T) {
	t.Parallel()
	f, err := ParseFile("a.test", []byte("[Test]\nExecStart=first\nExecStart=second\n"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if v, _ := f.Section("Test").Get("ExecStart"); v != "second" {
		t.Errorf("value = %q, want second (last wins)", v)
	}
	if len(f.Warnings) != 1 || !strings.Contains(f.Warnings[0], "duplicate key") {
		t.Errorf("Warnings = %v, want one duplicate-key warning", f.Warnings)
	}
}

func TestParseFile_KeyOutsideSection(t *testing.T) {
	t.Parallel()
	_, err := ParseFile("a.test", []byte("ExecStart=x\n"))
	if err == nil {
		t.Fatal("expected error for key outside section")
	}
}

func TestParseTimeout(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"5", "5s", true},
		{"90", "1m30s", true},
		{"1m30s", "1m30s", true},
		{"250ms", "250ms", true},
		{"-5s", "", false},
		{"soon", "", false},
	}
	for _, tc := range cases {
		d, err := parseTimeout(tc.in)
		if tc.ok != (err == nil) {
			t.Errorf("parseTimeout(%q) error = %v, want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if tc.ok && d.String() != tc.want {
			t.Errorf("parseTimeout(%q) = %v, want %v", tc.in, d, tc.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"true", "True", "YES", "1"} {
		if v, err := parseBool(s); err != nil || !v {
			t.Errorf("parseBool(%q) = %v, %v; want true", s, v, err)
		}
	}
	for _, s := range []string{"false", "no", "0", "No"} {
		if v, err := parseBool(s); err != nil || v {
			t.Errorf("parseBool(%q) = %v, %v; want false", s, v, err)
		}
	}
	if _, err := parseBool("maybe"); err == nil {
		t.Error("parseBool(maybe) should fail")
	}
}
