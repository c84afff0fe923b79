package command

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantOK      bool
		wantKind    Kind
		wantKeyword string
		wantArgs    string
	}{
		{
			name:     "reset",
			input:    "!reset",
			wantOK:   true,
			wantKind: Reset,
		},
		{
			name:     "help",
			input:    "!help",
			wantOK:   true,
			wantKind: Help,
		},
		{
			name:     "version",
			input:    "!version",
			wantOK:   true,
			wantKind: Version,
		},
		{
			name:        "unknown keyword",
			input:       "!frobnicate",
			wantOK:      true,
			wantKind:    Unknown,
			wantKeyword: "frobnicate",
		},
		{
			name:     "leading whitespace",
			input:    "  !reset  ",
			wantOK:   true,
			wantKind: Reset,
		},
		{
			name:     "args after keyword",
			input:    "!reset please and thanks",
			wantOK:   true,
			wantKind: Reset,
			wantArgs: "please and thanks",
		},
		{
			name:   "plain text",
			input:  "Hello there",
			wantOK: false,
		},
		{
			name:   "prefix mid-text",
			input:  "say !reset for me",
			wantOK: false,
		},
		{
			name:   "empty",
			input:  "",
			wantOK: false,
		},
		{
			name:        "bare prefix",
			input:       "!",
			wantOK:      true,
			wantKind:    Unknown,
			wantKeyword: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok := Parse(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if cmd.Kind != tt.wantKind {
				t.Errorf("kind = %v, want %v", cmd.Kind, tt.wantKind)
			}
			if tt.wantKeyword != "" || cmd.Kind == Unknown {
				if cmd.Keyword != tt.wantKeyword {
					t.Errorf("keyword = %q, want %q", cmd.Keyword, tt.wantKeyword)
				}
			}
			if cmd.Args != tt.wantArgs {
				t.Errorf("args = %q, want %q", cmd.Args, tt.wantArgs)
			}
		})
	}
}

func TestReply(t *testing.T) {
	if reply := (Command{Kind: Reset}).Reply(); reply != "" {
		t.Errorf("reset reply = %q, want empty (silent)", reply)
	}
	if reply := (Command{Kind: Help}).Reply(); !strings.Contains(reply, "!reset") {
		t.Errorf("help reply should list commands, got %q", reply)
	}
	if reply := (Command{Kind: Version}).Reply(); !strings.Contains(reply, "matrix-openai-bot") {
		t.Errorf("version reply = %q", reply)
	}
	unknown := Command{Kind: Unknown, Keyword: "frobnicate"}
	if reply := unknown.Reply(); !strings.Contains(reply, "frobnicate") {
		t.Errorf("unknown reply = %q, want the keyword echoed", reply)
	}
}

func TestStopsBackfill(t *testing.T) {
	for _, tt := range []struct {
		kind Kind
		want bool
	}{
		{Reset, true},
		{Help, false},
		{Version, false},
		{Unknown, false},
	} {
		if got := (Command{Kind: tt.kind}).StopsBackfill(); got != tt.want {
			t.Errorf("StopsBackfill(%v) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}
