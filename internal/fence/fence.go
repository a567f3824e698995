// Package fence pulls tagged code blocks out of model replies.
package fence

import (
	"regexp"
	"strings"
)

var (
	sqlBlock           = regexp.MustCompile("(?is)```sql\\s*(.*?)\\s*```")
	visualizationBlock = regexp.MustCompile("(?is)```visualization\\s*(.*?)\\s*```")
)

// SQL returns the body of the first ```sql block in text. The tag match is
// case-insensitive and only the first block counts. An empty block reports
// false.
func SQL(text string) (string, bool) {
	return first(sqlBlock, text)
}

// Visualization returns the body of the first ```visualization block.
func Visualization(text string) (string, bool) {
	return first(visualizationBlock, text)
}

func first(pattern *regexp.Regexp, text string) (string, bool) {
	match := pattern.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	body := strings.TrimSpace(match[1])
	if body == "" {
		return "", false
	}
	return body, true
}
