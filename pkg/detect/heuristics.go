// Package detect classifies rendered page content for block/limit signals and
// transient interstitials. Both detectors are advisory heuristics over site
// copy that changes without notice; callers must tolerate false negatives
// (the orchestrator's failure counters are the real safety net).
package detect

import (
	"strings"

	"golang.org/x/net/html"
)

// ContainsLimitMarkers reports whether text reads like a rate-limit dialog:
// it must name the limited action category and carry a limit marker.
func ContainsLimitMarkers(text string, actionMarkers, limitMarkers []string) bool {
	if !containsAny(text, actionMarkers) {
		return false
	}
	return containsAny(text, limitMarkers)
}

// DialogBlocked scans an HTML document for visible dialog-like containers and
// classifies the page as blocked when any container's text matches at least
// two of the keyword set.
func DialogBlocked(content string, keywords []string) bool {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return false
	}

	var blocked bool
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if blocked {
			return
		}
		if n.Type == html.ElementNode && isDialogLike(n) && !isInlineHidden(n) {
			text := nodeText(n)
			if countKeywords(text, keywords) >= 2 {
				blocked = true
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return blocked
}

// PageLimitPhrase returns the first account-limit phrase found anywhere in
// the page content, if any.
func PageLimitPhrase(content string, phrases []string) (string, bool) {
	for _, phrase := range phrases {
		if phrase != "" && strings.Contains(content, phrase) {
			return phrase, true
		}
	}
	return "", false
}

func isDialogLike(n *html.Node) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		class := strings.ToLower(attr.Val)
		if strings.Contains(class, "dialog") || strings.Contains(class, "popup") {
			return true
		}
	}
	return false
}

// isInlineHidden catches only inline-style hiding; computed styles are not
// available from a serialized document.
func isInlineHidden(n *html.Node) bool {
	for _, attr := range n.Attr {
		if attr.Key != "style" {
			continue
		}
		style := strings.ReplaceAll(strings.ToLower(attr.Val), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func countKeywords(text string, keywords []string) int {
	count := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			count++
		}
	}
	return count
}

func containsAny(text string, needles []string) bool {
	for _, needle := range needles {
		if needle != "" && strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
