package transport

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/d-kuro/sessionclient/pkg/constants"
)

// SummarizeBody extracts a short message from an error response body.
// JSON bodies yield their "message", "error" or "detail" field, HTML pages
// (typically from a proxy or load balancer) their visible text, anything
// else the raw text. The result is truncated to MaxErrorMessageLength.
func SummarizeBody(contentType string, body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if len(body) > constants.MaxErrorBodySniffBytes {
		body = body[:constants.MaxErrorBodySniffBytes]
	}

	if msg := jsonMessage(body); msg != "" {
		return truncate(msg)
	}

	text := string(body)
	if strings.Contains(contentType, constants.ContentTypeHTML) || looksLikeHTML(text) {
		text = ExtractTextFromHTML(text)
	}
	return truncate(collapseWhitespace(text))
}

func jsonMessage(body []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"message", "error", "detail", "error_description"} {
		switch v := fields[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if m, ok := v["message"].(string); ok && m != "" {
				return m
			}
		}
	}
	return ""
}

func looksLikeHTML(text string) bool {
	head := strings.ToLower(strings.TrimSpace(text))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= constants.MaxErrorMessageLength {
		return s
	}
	cut := constants.MaxErrorMessageLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func collapseWhitespace(content string) string {
	content = strings.ReplaceAll(content, constants.WhitespaceNewline, " ")
	content = strings.ReplaceAll(content, constants.WhitespaceTab, " ")
	for strings.Contains(content, constants.WhitespaceDouble) {
		content = strings.ReplaceAll(content, constants.WhitespaceDouble, " ")
	}
	return strings.TrimSpace(content)
}

// ExtractTextFromHTML extracts the visible text of an HTML document. The
// parser recovers from malformed markup, so a page cut at the sniff limit
// still yields its text; on a parse error the raw content is returned.
func ExtractTextFromHTML(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return collapseWhitespace(htmlContent)
	}

	var result strings.Builder
	extractTextNodes(doc, &result)
	return collapseWhitespace(result.String())
}

// extractTextNodes recursively extracts text from HTML nodes, skipping non-visible content.
func extractTextNodes(node *html.Node, result *strings.Builder) {
	if node == nil {
		return
	}

	if node.Type == html.ElementNode {
		switch strings.ToLower(node.Data) {
		case "script", "style", "noscript", "head", "iframe", "object", "embed":
			return
		}
	}

	if node.Type == html.TextNode {
		text := strings.TrimSpace(node.Data)
		if text != "" {
			result.WriteString(text)
			result.WriteString(" ")
		}
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		extractTextNodes(child, result)
	}
}
