package llm

import "strings"

// extractJSON strips markdown code fences and surrounding prose that some
// models wrap around JSON output, returning the innermost object.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")

		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}

		content = strings.TrimSpace(content)
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start >= 0 && end > start {
		return content[start : end+1]
	}

	return content
}
