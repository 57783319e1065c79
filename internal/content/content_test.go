package content

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML tags", "Hello <b>World</b>", "Hello <b>World</b>"},
		{"Script tag", "<script>alert('xss')</script>Hello", "Hello"},
		{"Complex HTML", "<a href='javascript:alert(1)'>Click me</a>", "Click me"},
		{"Emoji", "To the moon 🚀", "To the moon 🚀"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.expected {
				t.Errorf("Sanitize() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMentionsUser(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		username string
		want     bool
	}{
		{"Exact mention", "hey @alice look at this", "alice", true},
		{"Case insensitive", "Hey @Alice!", "alice", true},
		{"Upper username", "ping @bob", "BOB", true},
		{"No mention", "hello everyone", "alice", false},
		{"Name without at", "alice was here", "alice", false},
		{"Empty username", "hey @", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MentionsUser(tt.content, tt.username); got != tt.want {
				t.Errorf("MentionsUser() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRender(t *testing.T) {
	html, err := Render("**bold** and ![chart](https://example.com/c.png)")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(html, "<strong>bold</strong>") {
		t.Errorf("bold not rendered: %s", html)
	}
	if !strings.Contains(html, "<img") {
		t.Errorf("image convention not rendered: %s", html)
	}

	// Script injection through markdown must not survive.
	html, err = Render("<script>alert(1)</script>hi")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Errorf("script survived sanitization: %s", html)
	}
}

// Minimal valid PNG header, enough for type sniffing.
var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D}

func TestDescribeAttachment(t *testing.T) {
	att := DescribeAttachment("chart.png", pngBytes)
	if att.Type != "image/png" {
		t.Errorf("expected image/png, got %s", att.Type)
	}
	if att.Preview == "" {
		t.Error("image attachment should carry a preview")
	}
	if !strings.HasPrefix(att.Preview, "data:image/png;base64,") {
		t.Errorf("preview is not a data URI: %s", att.Preview)
	}
	if att.Size != int64(len(pngBytes)) {
		t.Errorf("expected size %d, got %d", len(pngBytes), att.Size)
	}

	// Non-image files get no preview, by the bounded-payload rule.
	att = DescribeAttachment("notes.txt", []byte("plain text file"))
	if att.Preview != "" {
		t.Error("non-image attachment should not carry a preview")
	}
	if att.Name != "notes.txt" {
		t.Errorf("unexpected name %s", att.Name)
	}
}
