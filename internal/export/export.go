// Package export stitches approved manuscript chunks into a single
// readable document.
package export

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/storyloom/storyloom/internal/workspace"
	"github.com/storyloom/storyloom/pkg/models"
)

// Options controls an export run
type Options struct {
	// AllowPartial permits exporting before the workflow reaches COMPLETE;
	// only approved chunks are included.
	AllowPartial bool
}

// Manuscript writes the stitched manuscript to the workspace's export path
// and returns it. By default the workflow must be complete; with
// AllowPartial the approved prefix is exported as a draft.
func Manuscript(ws *workspace.Workspace, st *models.WorkflowState, opts Options, logger *slog.Logger) (string, error) {
	if !st.IsComplete() && !opts.AllowPartial {
		return "", fmt.Errorf("workflow is not complete (%d/%d chunks approved); use --partial to export a draft",
			st.ApprovedChunks, st.TotalChunks)
	}
	if st.ApprovedChunks == 0 {
		return "", fmt.Errorf("no approved chunks to export")
	}

	var sb strings.Builder
	sb.WriteString("# " + st.Title + "\n\n")
	if !st.IsComplete() {
		sb.WriteString(fmt.Sprintf("*Draft export: %d of %d chunks approved.*\n\n", st.ApprovedChunks, st.TotalChunks))
	}
	sb.WriteString(fmt.Sprintf("*Exported %s*\n\n---\n\n", time.Now().Format("2006-01-02")))

	for n := 1; n <= st.ApprovedChunks; n++ {
		content, err := ws.ReadChunk(n)
		if err != nil {
			return "", fmt.Errorf("approved chunk %d is missing from the manuscript: %w", n, err)
		}
		sb.WriteString(strings.TrimRight(content, "\n"))
		sb.WriteString("\n\n")
	}

	path := ws.ExportPath()
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write manuscript export: %w", err)
	}

	logger.Info("Exported manuscript", "path", path, "chunks", st.ApprovedChunks)
	return path, nil
}
