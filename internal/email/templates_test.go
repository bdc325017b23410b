package email

import (
	"strings"
	"testing"

	"github.com/afterword/heartbeat/internal/retryhttp"
)

func TestUnlockMessageContainsViewerLinkAndKey(t *testing.T) {
	c := New("k", "noreply@afterword.app", retryhttp.New())
	msg := c.UnlockMessage("beneficiary@example.com", "Jane", "For my daughter", "https://view.afterword.app/?entry=abc", "c2VjdXJlLWtleQ==")

	if msg.Subject != "Message from Jane" {
		t.Fatalf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Text, "https://view.afterword.app/?entry=abc") {
		t.Fatalf("text body missing viewer link: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "c2VjdXJlLWtleQ==") {
		t.Fatalf("text body missing security key")
	}
	if !strings.Contains(msg.HTML, "https://view.afterword.app/?entry=abc") {
		t.Fatalf("html body missing viewer link")
	}
	if !strings.Contains(msg.HTML, "For my daughter") {
		t.Fatalf("html body missing title")
	}
}

func TestUnlockMessageSanitizesSenderNameAndTitle(t *testing.T) {
	c := New("k", "noreply@afterword.app", retryhttp.New())
	msg := c.UnlockMessage("b@example.com", "<b>Jane</b>", "<img src=x onerror=alert(1)>", "https://x", "key")

	if strings.Contains(msg.HTML, "onerror") {
		t.Fatalf("html body retains injected attribute: %q", msg.HTML)
	}
	if strings.Contains(msg.Subject, "<b>") {
		t.Fatalf("subject retains raw HTML: %q", msg.Subject)
	}
}

func TestReminderMessageUsesBucketLanguage(t *testing.T) {
	c := New("k", "noreply@afterword.app", retryhttp.New())
	msg := c.ReminderMessage("u@example.com", 0.05)
	if !strings.Contains(msg.Subject, "URGENT") {
		t.Fatalf("subject = %q, want URGENT", msg.Subject)
	}
}
