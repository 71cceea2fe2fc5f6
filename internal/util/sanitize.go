package util

import (
	"strings"

	"golang.org/x/net/html"
)

// StripScripts removes <script> and <style> elements from user text and
// trims outer space. Everything else, including stray '<' and entities, is
// kept byte for byte.
func StripScripts(s string) string {
	lower := strings.ToLower(s)
	if !strings.Contains(lower, "<script") && !strings.Contains(lower, "<style") {
		return strings.TrimSpace(s)
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	consumed := 0
	hidden := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// bytes the tokenizer gave up on (an unterminated tag) are plain text
			if hidden == 0 && consumed < len(s) {
				b.WriteString(s[consumed:])
			}
			return strings.TrimSpace(b.String())
		}
		raw := z.Raw()
		consumed += len(raw)
		switch tt {
		case html.StartTagToken:
			if name, _ := z.TagName(); isHiddenTag(name) {
				hidden++
				continue
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isHiddenTag(name) && hidden > 0 {
				hidden--
				continue
			}
		}
		if hidden == 0 {
			b.Write(raw)
		}
	}
}

func isHiddenTag(name []byte) bool {
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}
