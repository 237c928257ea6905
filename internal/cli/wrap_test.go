package cli

import "testing"

func TestStripAnsi_Colors(t *testing.T) {
	input := "\x1b[32mhello\x1b[0m world"
	got := stripAnsi(input)
	want := "hello world"
	if got != want {
		t.Errorf("stripAnsi colors: got %q, want %q", got, want)
	}
}

func TestStripAnsi_CarriageReturn(t *testing.T) {
	input := "line one\r\nline two\r\n"
	got := stripAnsi(input)
	want := "line one\nline two"
	if got != want {
		t.Errorf("stripAnsi CR: got %q, want %q", got, want)
	}
}

func TestStripAnsi_CursorMovement(t *testing.T) {
	input := "\x1b[2J\x1b[Hhello\x1b[1A"
	got := stripAnsi(input)
	want := "hello"
	if got != want {
		t.Errorf("stripAnsi cursor: got %q, want %q", got, want)
	}
}

func TestStripAnsi_CollapseBlankLines(t *testing.T) {
	input := "line one\n\n\n\n\nline two"
	got := stripAnsi(input)
	want := "line one\n\nline two"
	if got != want {
		t.Errorf("stripAnsi collapse: got %q, want %q", got, want)
	}
}

func TestStripAnsi_PlainText(t *testing.T) {
	input := "hello world"
	got := stripAnsi(input)
	if got != input {
		t.Errorf("stripAnsi plain: got %q, want %q", got, input)
	}
}

func TestTruncateLabel(t *testing.T) {
	if got := truncateLabel("short", 10); got != "short" {
		t.Errorf("truncateLabel short: got %q", got)
	}
	if got := truncateLabel("a long label here", 6); got != "a long..." {
		t.Errorf("truncateLabel long: got %q", got)
	}
}
