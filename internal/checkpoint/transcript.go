package checkpoint

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/storyloom/storyloom/internal/util"
	"github.com/storyloom/storyloom/pkg/models"
)

// WriteTranscript renders the phase conversation as readable markdown.
// Best-effort: callers log failures and carry on.
func (s *Store) WriteTranscript(phase models.Phase, messages []models.Message) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Conversation Log — %s\n\n", phase)
	fmt.Fprintf(&b, "Updated: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	for i, msg := range messages {
		fmt.Fprintf(&b, "## [%d] %s\n\n", i+1, msg.Role)

		if msg.ReasoningContent != "" {
			fmt.Fprintf(&b, "<details><summary>reasoning</summary>\n\n%s\n\n</details>\n\n",
				util.TruncateString(msg.ReasoningContent, 2000))
		}

		if msg.Content != "" {
			b.WriteString(msg.Content)
			b.WriteString("\n\n")
		}

		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&b, "- tool call `%s` (%s): `%s`\n",
				tc.Function.Name, tc.ID, util.TruncateString(tc.Function.Arguments, 500))
		}
		if len(msg.ToolCalls) > 0 {
			b.WriteString("\n")
		}

		if msg.Role == models.RoleTool {
			fmt.Fprintf(&b, "(result for %s)\n\n", msg.ToolCallID)
		}
	}

	if err := os.WriteFile(s.ws.TranscriptPath(phase), []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}
