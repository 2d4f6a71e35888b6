// ABOUTME: WebVTT subtitle cleaning into plain running text
// ABOUTME: Drops headers, cue timings, sequence numbers, and inline markup

package transcript

import (
	"regexp"
	"strings"
)

var (
	vttHeader     = regexp.MustCompile(`(?m)^WEBVTT.*$`)
	vttKind       = regexp.MustCompile(`(?m)^Kind:.*$`)
	vttLanguage   = regexp.MustCompile(`(?m)^Language:.*$`)
	vttTiming     = regexp.MustCompile(`(?m)^\d{2}:\d{2}:\d{2}[.,]\d{3} --> .*$`)
	vttSequence   = regexp.MustCompile(`(?m)^\d+$`)
	vttTag        = regexp.MustCompile(`<[^>]+>`)
	vttPositioner = regexp.MustCompile(`\{\\an\d\}`)
)

// CleanVTT converts WebVTT (or SRT-like) subtitle content to a single line of
// text. Lines that still start with '<', '{' or '[' after tag removal are
// treated as annotations and dropped.
func CleanVTT(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	content = vttHeader.ReplaceAllString(content, "")
	content = vttKind.ReplaceAllString(content, "")
	content = vttLanguage.ReplaceAllString(content, "")
	content = vttTiming.ReplaceAllString(content, "")
	content = vttSequence.ReplaceAllString(content, "")
	content = vttTag.ReplaceAllString(content, "")
	content = vttPositioner.ReplaceAllString(content, "")

	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.ContainsAny(line[:1], "<{[") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, " ")
}
