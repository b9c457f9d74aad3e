package utils

import (
	"strings"
	"testing"

	"coldreach/config"
)

func TestTrackingTokenRoundTrip(t *testing.T) {
	config.AppConfig.EncryptionKey = "0123456789abcdef0123456789abcdef"

	messageID := "<abc-123@example.com>"
	token := GenerateTrackingToken(messageID)

	if len(token) != 20 {
		t.Fatalf("token length = %d, want 20", len(token))
	}
	if !ValidTrackingToken(messageID, token) {
		t.Fatal("token should validate for its own message ID")
	}
	if ValidTrackingToken("<other@example.com>", token) {
		t.Fatal("token must not validate for a different message ID")
	}
	if ValidTrackingToken(messageID, token[:19]+"x") {
		t.Fatal("tampered token must not validate")
	}
}

func TestInjectTracking(t *testing.T) {
	config.AppConfig.EncryptionKey = "0123456789abcdef0123456789abcdef"

	messageID := "<abc-123@example.com>"
	html := `<p>Hi</p><a href="https://example.com/pricing">Pricing</a>`
	out := InjectTracking(html, "https://app.test", messageID)

	if !strings.Contains(out, "/track/open/") {
		t.Error("expected an open tracking pixel")
	}
	if !strings.Contains(out, "/track/click/") {
		t.Error("expected links rewritten through click tracking")
	}
	if strings.Contains(out, `href="https://example.com/pricing"`) {
		t.Error("original link should no longer appear directly")
	}
	if !strings.Contains(out, "url=https%3A%2F%2Fexample.com%2Fpricing") {
		t.Error("original URL should survive as a query parameter")
	}
}
