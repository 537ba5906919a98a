package source

import (
	"encoding/base64"
	"strings"
)

// linkPrefixes are the share-link schemes the parsers understand.
var linkPrefixes = []string{
	"ss://",
	"vmess://",
	"vless://",
	"trojan://",
	"hysteria://",
	"hysteria2://",
	"hy2://",
	"tuic://",
}

// hasLinkPrefix reports whether s starts with a known share-link scheme.
func hasLinkPrefix(s string) bool {
	s = strings.ToLower(s)
	for _, p := range linkPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// tryBase64 attempts the usual base64 variants subscriptions use. Returns
// the decoded text and whether decoding produced something that looks like a
// share-link payload.
func tryBase64(content string) (string, bool) {
	content = strings.TrimSpace(content)

	decoders := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}

	for _, enc := range decoders {
		decoded, err := enc.DecodeString(content)
		if err != nil {
			continue
		}
		text := string(decoded)
		for _, p := range linkPrefixes {
			if strings.Contains(text, p) {
				return text, true
			}
		}
	}
	return "", false
}

// splitLines returns trimmed non-empty lines.
func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
