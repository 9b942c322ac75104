package observer

import (
	"fmt"

	"github.com/schollz/progressbar/v3"

	"github.com/storyloom/storyloom/pkg/models"
)

// Observer receives workflow lifecycle events: phase changes, streamed
// fragments, tool-call starts and results, token usage, approvals, errors,
// and completion. The orchestrator and client emit them regardless of sink;
// the console implementation renders a subset, a UI channel can render all
// of them, tests plug in fakes.
type Observer interface {
	PhaseChanged(from, to models.Phase, st *models.WorkflowState)
	IterationDone(st *models.WorkflowState)
	StreamFragment(contentDelta, reasoningDelta string)
	ToolCallStarted(name string)
	ToolCallFinished(name string, success bool)
	TokenUsage(promptTokens, completionTokens, totalTokens int)
	ApprovalPending(req *models.ApprovalRequest)
	Error(err error)
	WorkflowDone(st *models.WorkflowState)
}

// Nop is an Observer that ignores every event
type Nop struct{}

func (Nop) PhaseChanged(models.Phase, models.Phase, *models.WorkflowState) {}
func (Nop) IterationDone(*models.WorkflowState)                            {}
func (Nop) StreamFragment(string, string)                                  {}
func (Nop) ToolCallStarted(string)                                         {}
func (Nop) ToolCallFinished(string, bool)                                  {}
func (Nop) TokenUsage(int, int, int)                                       {}
func (Nop) ApprovalPending(*models.ApprovalRequest)                        {}
func (Nop) Error(error)                                                    {}
func (Nop) WorkflowDone(*models.WorkflowState)                             {}

// Console renders workflow progress as a chunk-approval progress bar with
// tool-call activity lines. Raw stream fragments are not rendered; they
// would interleave with the bar.
type Console struct {
	bar *progressbar.ProgressBar
}

// NewConsole creates a console observer
func NewConsole() *Console {
	return &Console{}
}

func (c *Console) ensureBar(st *models.WorkflowState) {
	if c.bar != nil || st.TotalChunks == 0 {
		return
	}
	c.bar = progressbar.NewOptions(st.TotalChunks,
		progressbar.OptionSetDescription("chunks approved"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
	)
}

func (c *Console) PhaseChanged(from, to models.Phase, st *models.WorkflowState) {
	fmt.Printf("\n=== %s -> %s (%.1f%%)\n", from, to, st.Progress())
	c.ensureBar(st)
	if c.bar != nil {
		_ = c.bar.Set(st.ApprovedChunks)
	}
}

func (c *Console) IterationDone(st *models.WorkflowState) {
	c.ensureBar(st)
	if c.bar != nil {
		_ = c.bar.Set(st.ApprovedChunks)
	}
}

func (c *Console) StreamFragment(string, string) {}

func (c *Console) ToolCallStarted(name string) {
	fmt.Printf("\n  -> %s", name)
}

func (c *Console) ToolCallFinished(name string, success bool) {
	if !success {
		fmt.Printf("\n  !! %s failed", name)
	}
}

func (c *Console) TokenUsage(int, int, int) {}

func (c *Console) ApprovalPending(req *models.ApprovalRequest) {
	fmt.Printf("\nApproval required: %s -> %s (request %s)\n", req.FromPhase, req.ToPhase, req.ID)
	fmt.Println("Resolve with: storyloom approve <project-id>  or  storyloom reject <project-id> --feedback \"...\"")
}

func (c *Console) Error(err error) {
	fmt.Printf("\nWorkflow error: %v\n", err)
}

func (c *Console) WorkflowDone(st *models.WorkflowState) {
	if c.bar != nil {
		_ = c.bar.Finish()
	}
	fmt.Printf("\nWorkflow complete: %d/%d chunks approved.\n", st.ApprovedChunks, st.TotalChunks)
}
