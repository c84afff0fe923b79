package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
)

// TextMarkdown builds message content carrying the markdown source as
// the plain-text body and the rendered HTML as formatted_body, the
// shape Matrix clients expect for rich replies.
func TextMarkdown(body string) MessageContent {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(body), &buf); err != nil {
		// Renderer failure only loses formatting, never the reply.
		return MessageContent{MsgType: "m.text", Body: body}
	}

	return MessageContent{
		MsgType:       "m.text",
		Body:          body,
		Format:        "org.matrix.custom.html",
		FormattedBody: strings.TrimSpace(buf.String()),
	}
}

// TextPlain builds plain-text message content.
func TextPlain(body string) MessageContent {
	return MessageContent{MsgType: "m.text", Body: body}
}
