package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"coldreach/config"
)

// GenerateTrackingToken derives a verifiable token for a message ID. The
// tracking endpoints recompute and compare it, so a scraped pixel URL cannot
// be replayed against other messages.
func GenerateTrackingToken(messageID string) string {
	mac := hmac.New(sha256.New, []byte(config.AppConfig.EncryptionKey))
	mac.Write([]byte(messageID))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))[:20]
}

// ValidTrackingToken reports whether token belongs to messageID.
func ValidTrackingToken(messageID, token string) bool {
	return hmac.Equal([]byte(GenerateTrackingToken(messageID)), []byte(token))
}

// GenerateTrackingPixelURL generates a tracking pixel URL for email opens
func GenerateTrackingPixelURL(baseURL, messageID string) string {
	return fmt.Sprintf("%s/track/open/%s/%s", baseURL, url.PathEscape(messageID), GenerateTrackingToken(messageID))
}

// GenerateClickTrackURL generates a tracked URL for links
func GenerateClickTrackURL(baseURL, messageID, originalURL string) string {
	return fmt.Sprintf("%s/track/click/%s/%s?url=%s",
		baseURL, url.PathEscape(messageID), GenerateTrackingToken(messageID), url.QueryEscape(originalURL))
}

// InjectTracking injects open and click tracking into email content
func InjectTracking(htmlContent, baseURL, messageID string) string {
	pixelURL := GenerateTrackingPixelURL(baseURL, messageID)
	trackingPixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, pixelURL)

	return injectClickTracking(htmlContent, baseURL, messageID) + trackingPixel
}

func injectClickTracking(html, baseURL, messageID string) string {
	// Simplified rewrite; an HTML parser would handle quoting edge cases
	startTag := "<a href=\""
	endTag := "\""
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], endTag)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		originalURL := html[startIdx:endIdx]
		trackedURL := GenerateClickTrackURL(baseURL, messageID, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}
