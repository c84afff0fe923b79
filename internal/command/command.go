// Package command recognizes control directives embedded in message text.
// Any text starting with the prefix character is a command and is never
// forwarded to the completion backend.
package command

import (
	"fmt"
	"strings"

	"github.com/spacebased/matrix-openai-bot/internal/buildinfo"
)

// Prefix marks a message as a command.
const Prefix = '!'

// Kind identifies a recognized command keyword.
type Kind int

const (
	// Reset clears the stored conversation for the room.
	Reset Kind = iota
	// Help replies with the command summary.
	Help
	// Version replies with build information.
	Version
	// Unknown is any other prefixed keyword. Still a command: the text
	// must not reach the backend as conversational input.
	Unknown
)

// Command is a parsed control directive.
type Command struct {
	Kind Kind
	// Keyword is the token after the prefix, as typed.
	Keyword string
	// Args is the free-form remainder after the keyword. No keyword
	// uses it yet.
	Args string
}

const helpText = "Available commands:\n" +
	"- `!reset` — forget the conversation in this room\n" +
	"- `!help` — show this text\n" +
	"- `!version` — show bot version"

// Parse recognizes a command in the given message text. The second
// return is false when the text is not a command at all.
func Parse(text string) (Command, bool) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) == 0 || rune(trimmed[0]) != Prefix {
		return Command{}, false
	}

	keyword, args, _ := strings.Cut(trimmed[1:], " ")

	cmd := Command{Keyword: keyword, Args: args}
	switch keyword {
	case "reset":
		cmd.Kind = Reset
	case "help":
		cmd.Kind = Help
	case "version":
		cmd.Kind = Version
	default:
		cmd.Kind = Unknown
	}
	return cmd, true
}

// Reply returns the static user-facing reply text. Empty means nothing
// should be sent (reset acknowledges silently).
func (c Command) Reply() string {
	switch c.Kind {
	case Reset:
		return ""
	case Help:
		return helpText
	case Version:
		return buildinfo.String()
	default:
		return fmt.Sprintf("Unknown command `!%s`. Try `!help`.", c.Keyword)
	}
}

// StopsBackfill reports whether finding this command while scanning room
// history backward marks the conversation boundary. Only reset does:
// nothing at or before a reset is part of the conversation.
func (c Command) StopsBackfill() bool {
	return c.Kind == Reset
}
