package content

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"tradefloor/internal/models"

	"github.com/h2non/filetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	policy = bluemonday.UGCPolicy()

	markdown = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
	)
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// All inbound message content passes through here before it reaches a
// notification or a rendered surface.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Render converts message markdown to sanitized HTML. Messages embed
// images using the standard markdown-image convention, so no custom
// syntax is needed here.
func Render(input string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return policy.Sanitize(buf.String()), nil
}

// MentionsUser reports whether the content names the given user with
// an @-mention. Matching is a case-insensitive substring check.
func MentionsUser(messageContent, username string) bool {
	if username == "" {
		return false
	}
	return strings.Contains(
		strings.ToLower(messageContent),
		strings.ToLower("@"+username),
	)
}

// EmbedImage wraps an uploaded image URL in the markdown-image
// convention used by message content.
func EmbedImage(alt, url string) string {
	return fmt.Sprintf("![%s](%s)", alt, url)
}

// DescribeAttachment builds an attachment descriptor from raw file
// bytes. Only images get an inline data-URI preview; other file types
// are displayed without one so the descriptor stays small.
func DescribeAttachment(name string, data []byte) models.Attachment {
	att := models.Attachment{
		Name: name,
		Size: int64(len(data)),
		Type: "application/octet-stream",
	}

	kind, err := filetype.Match(data)
	if err == nil && kind != filetype.Unknown {
		att.Type = kind.MIME.Value
	}

	if filetype.IsImage(data) {
		att.Preview = fmt.Sprintf("data:%s;base64,%s",
			att.Type, base64.StdEncoding.EncodeToString(data))
	}

	return att
}
