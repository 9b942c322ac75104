package util

import (
	"regexp"
	"strings"
)

// Some models inline their reasoning in <think> tags instead of using the
// reasoning_content stream field.
var thinkTagRegex = regexp.MustCompile(`(?i)<think(?:ing)?>([\s\S]*?)</think(?:ing)?>`)

// ContainsThinkTags checks if the response contains inline reasoning tags
func ContainsThinkTags(response string) bool {
	return thinkTagRegex.MatchString(response)
}

// SplitThinkAndAnswer separates inline reasoning from the final answer.
// Returns (reasoning, answer); reasoning is empty when no tags are present.
func SplitThinkAndAnswer(response string) (string, string) {
	matches := thinkTagRegex.FindAllStringSubmatch(response, -1)
	if len(matches) == 0 {
		return "", response
	}

	var reasoning []string
	for _, match := range matches {
		if len(match) > 1 {
			reasoning = append(reasoning, strings.TrimSpace(match[1]))
		}
	}

	answer := strings.TrimSpace(thinkTagRegex.ReplaceAllString(response, ""))
	return strings.Join(reasoning, "\n\n"), answer
}
