package responder

import (
	"regexp"
	"strings"
)

var controlTags = []*regexp.Regexp{
	regexp.MustCompile(`\[IMAGE_PATH:[^\]]*\]`),
	regexp.MustCompile(`\[DOCUMENT_PATH:[^\]]*\]`),
	regexp.MustCompile(`\[TOOL:[^\]]*\]`),
	regexp.MustCompile(`(?s)\[DIAGRAM_IMAGE\].*?\[/DIAGRAM_IMAGE\]`),
}

// CleanDisplayText strips transport control tags from model output and
// trims surrounding whitespace.
func CleanDisplayText(s string) string {
	for _, re := range controlTags {
		s = re.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}
