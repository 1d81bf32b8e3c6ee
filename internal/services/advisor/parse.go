package advisor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	codeFencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	floatPattern     = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

// stripCodeFence unwraps a fenced block when the model insists on one.
// Unfenced responses pass through trimmed.
func stripCodeFence(response string) string {
	if match := codeFencePattern.FindStringSubmatch(response); match != nil {
		return strings.TrimSpace(match[1])
	}
	return strings.TrimSpace(response)
}

// parseProbability extracts the first numeric token from the response and
// normalises it to [0,1]. Models sometimes answer in percent; values above
// one are treated as percentages.
func parseProbability(response string) (float64, error) {
	token := floatPattern.FindString(stripCodeFence(response))
	if token == "" {
		return 0, fmt.Errorf("no numeric probability in advisor response")
	}
	value, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable probability %q: %w", token, err)
	}
	if value > 1 {
		value = value / 100
	}
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}
	return value, nil
}
