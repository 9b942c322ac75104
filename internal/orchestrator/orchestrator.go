package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/storyloom/storyloom/internal/agent"
	"github.com/storyloom/storyloom/internal/api"
	"github.com/storyloom/storyloom/internal/checkpoint"
	"github.com/storyloom/storyloom/internal/compress"
	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/metrics"
	"github.com/storyloom/storyloom/internal/observer"
	"github.com/storyloom/storyloom/internal/state"
	"github.com/storyloom/storyloom/internal/tools"
	"github.com/storyloom/storyloom/internal/workspace"
	"github.com/storyloom/storyloom/pkg/models"
)

// ErrIterationBudgetExhausted marks a run stopped by the safety cap. It is
// a terminal outcome, not a crash: state and checkpoint are intact and the
// run can be restarted with a higher budget.
var ErrIterationBudgetExhausted = errors.New("iteration budget exhausted")

// continueNudge is appended when the model replies without tool calls;
// progress only happens through tools, so the turn would otherwise stall.
const continueNudge = "Continue the current phase using the available tools. " +
	"Work only exists once saved with a tool call; plain messages do not advance the workflow."

// modelClient is the completion surface the orchestrator drives
type modelClient interface {
	ChatCompletionStreaming(ctx context.Context, modelCfg config.ModelConfig, apiKey string, messages []models.Message, tools []api.Tool) (*api.ChatCompletionResponse, error)
	RetriesTotal() int64
}

// Orchestrator runs the phase state machine for one project: it seeds each
// phase's agent, streams model turns, dispatches tool calls, arbitrates
// transitions, compresses context, and keeps state and checkpoints durable.
type Orchestrator struct {
	cfg         *config.Config
	secrets     *config.Secrets
	client      modelClient
	ws          *workspace.Workspace
	states      *state.Store
	checkpoints *checkpoint.Store
	compressor  *compress.Engine
	metrics     *metrics.Collector
	obs         observer.Observer
	logger      *slog.Logger

	st       *models.WorkflowState
	messages []models.Message
}

// New creates an orchestrator for a project workspace
func New(
	cfg *config.Config,
	secrets *config.Secrets,
	client modelClient,
	ws *workspace.Workspace,
	states *state.Store,
	checkpoints *checkpoint.Store,
	compressor *compress.Engine,
	collector *metrics.Collector,
	obs observer.Observer,
	logger *slog.Logger,
) *Orchestrator {
	if obs == nil {
		obs = observer.Nop{}
	}
	return &Orchestrator{
		cfg:         cfg,
		secrets:     secrets,
		client:      client,
		ws:          ws,
		states:      states,
		checkpoints: checkpoints,
		compressor:  compressor,
		metrics:     collector,
		obs:         obs,
		logger:      logger,
	}
}

// Run drives the workflow until the project completes, the iteration budget
// is exhausted, or an unrecoverable error occurs. Exactly one Run may be
// active per project.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	projectID := o.ws.ProjectID()
	if err := acquireProject(projectID); err != nil {
		return err
	}
	defer releaseProject(projectID)

	o.st, err = o.states.Load()
	if err != nil {
		return fmt.Errorf("failed to load workflow state: %w", err)
	}

	if o.metrics != nil {
		o.metrics.SetCurrentPhase(projectID, o.st.Phase)
	}

	if o.st.Phase.IsTerminal() {
		o.logger.Info("Workflow already complete", "project", projectID)
		return nil
	}

	// Resume the current phase's conversation if a checkpoint exists;
	// a cleared checkpoint means the phase starts fresh.
	if rec, ok, loadErr := o.checkpoints.Load(o.st.Phase); loadErr != nil {
		return fmt.Errorf("failed to load checkpoint: %w", loadErr)
	} else if ok {
		o.messages = rec.Messages
		o.logger.Info("Resumed phase conversation",
			"phase", o.st.Phase,
			"iteration", rec.Iteration,
			"messages", len(o.messages))
	}

	defer func() {
		if err != nil {
			o.obs.Error(err)
			// Best-effort durability before the error propagates
			if saveErr := o.checkpoints.SaveSync(o.currentRecord()); saveErr != nil {
				o.logger.Error("Failed to save checkpoint on shutdown", "error", saveErr)
			}
			if tsErr := o.checkpoints.WriteTranscript(o.st.Phase, o.messages); tsErr != nil {
				o.logger.Error("Failed to write transcript on shutdown", "error", tsErr)
			}
			if stErr := o.states.Save(o.st); stErr != nil {
				o.logger.Error("Failed to save state on shutdown", "error", stErr)
			}
		}
		if closeErr := o.checkpoints.Close(); closeErr != nil {
			o.logger.Error("Checkpoint writer reported error", "error", closeErr)
		}
	}()

	o.logger.Info("Workflow starting",
		"project", projectID,
		"phase", o.st.Phase,
		"iteration", o.st.Iteration)

	mainModel := o.cfg.Models["main"]
	apiKey := o.secrets.GetAPIKey(mainModel.BaseURL)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := o.waitWhilePaused(ctx); err != nil {
			return err
		}

		if req := o.st.PendingApproval; req != nil {
			if err := o.awaitApproval(ctx, req); err != nil {
				return err
			}
			continue
		}

		if o.st.Phase.IsTerminal() {
			o.obs.WorkflowDone(o.st)
			o.logger.Info("Workflow complete",
				"project", projectID,
				"chunks", o.st.ApprovedChunks,
				"iterations", o.st.Iteration)
			return nil
		}

		if o.st.Iteration >= o.cfg.Workflow.MaxIterations {
			return fmt.Errorf("%w: %d iterations reached in phase %s",
				ErrIterationBudgetExhausted, o.cfg.Workflow.MaxIterations, o.st.Phase)
		}

		ag, err := agent.ForPhase(o.st.Phase)
		if err != nil {
			return err
		}

		if len(o.messages) == 0 {
			seed, seedErr := ag.SeedPrompt(o.ws, o.st)
			if seedErr != nil {
				return fmt.Errorf("failed to build seed prompt: %w", seedErr)
			}
			o.messages = []models.Message{
				models.NewSystemMessage(ag.SystemPrompt()),
				models.NewUserMessage(seed),
			}
			o.logger.Info("Seeded phase conversation", "phase", o.st.Phase, "agent", ag.Name())
		}

		o.maybeCompress(ctx)

		iterStart := time.Now()
		retriesBefore := o.client.RetriesTotal()
		resp, err := o.client.ChatCompletionStreaming(ctx, mainModel, apiKey, o.messages, ag.Tools().Definitions())
		o.st.Stats.Retries += int(o.client.RetriesTotal() - retriesBefore)
		if err != nil {
			return fmt.Errorf("model call failed in phase %s: %w", o.st.Phase, err)
		}

		msg := resp.Choices[0].Message
		o.messages = append(o.messages, msg)

		o.st.Iteration++
		o.st.CurrentPhaseIterations++
		o.st.Stats.ModelCalls++
		o.st.Stats.TotalDuration += time.Since(iterStart)
		if o.metrics != nil {
			o.metrics.RecordIteration(o.st.Phase)
		}
		if u := resp.Usage; u.TotalTokens > 0 {
			o.obs.TokenUsage(u.PromptTokens, u.CompletionTokens, u.TotalTokens)
		}

		var transitions []tools.Transition
		if len(msg.ToolCalls) == 0 {
			o.logger.Debug("Response carried no tool calls, nudging", "phase", o.st.Phase)
			o.messages = append(o.messages, models.NewUserMessage(continueNudge))
		} else {
			var results []models.Message
			results, transitions = o.dispatchToolCalls(ctx, ag, msg.ToolCalls)
			o.messages = append(o.messages, results...)
		}

		o.saveProgress()
		o.obs.IterationDone(o.st)

		if len(transitions) > 0 {
			target := transitions[0]
			for _, dropped := range transitions[1:] {
				o.logger.Warn("Multiple transitions requested in one batch, keeping first",
					"kept", target.To,
					"dropped", dropped.To)
			}
			if err := o.requestTransition(target); err != nil {
				return err
			}
		}
	}
}

// maybeCompress folds old history into a summary when the token estimate
// reaches the threshold. Failure is logged and ignored: the next iteration
// simply runs with the uncompressed history.
func (o *Orchestrator) maybeCompress(ctx context.Context) {
	if o.compressor == nil {
		return
	}

	should, count := o.compressor.ShouldCompress(ctx, o.messages)
	if !should {
		return
	}
	o.logger.Info("Context threshold reached, compressing", "estimated_tokens", count)

	compressed, summary, err := o.compressor.Compress(ctx, o.messages)
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordCompression(false)
		}
		o.logger.Warn("Compression failed, continuing with full history", "error", err)
		return
	}
	if summary == "" {
		return
	}

	o.messages = compressed
	o.st.Stats.Compressions++
	if o.metrics != nil {
		o.metrics.RecordCompression(true)
	}
	if path, saveErr := o.ws.WriteContextSummary(summary); saveErr == nil {
		o.logger.Debug("Context summary saved", "path", path)
	}
}

// saveProgress persists the iteration: async checkpoint, state file, and a
// readable transcript on the configured interval.
func (o *Orchestrator) saveProgress() {
	if err := o.checkpoints.Save(o.currentRecord()); err != nil {
		o.logger.Error("Failed to queue checkpoint", "error", err)
	}

	// Transcript cadence follows the phase, not the whole run, so each
	// phase gets a transcript shortly after it starts producing turns.
	interval := o.cfg.Workflow.TranscriptInterval
	if interval > 0 && o.st.CurrentPhaseIterations%interval == 0 {
		if err := o.checkpoints.WriteTranscript(o.st.Phase, o.messages); err != nil {
			o.logger.Warn("Failed to write transcript", "error", err)
		}
	}

	if err := o.states.Save(o.st); err != nil {
		o.logger.Error("Failed to save workflow state", "error", err)
	}
}

func (o *Orchestrator) currentRecord() *models.CheckpointRecord {
	return &models.CheckpointRecord{
		ProjectID: o.st.ProjectID,
		SessionID: o.st.SessionID,
		Phase:     o.st.Phase,
		Iteration: o.st.Iteration,
		Messages:  o.messages,
	}
}

// requestTransition applies a tool-requested transition, or parks it behind
// an approval gate when entering the destination phase requires one.
func (o *Orchestrator) requestTransition(t tools.Transition) error {
	from := o.st.Phase
	if !from.CanTransitionTo(t.To) {
		o.logger.Warn("Ignoring illegal transition request", "from", from, "to", t.To)
		return nil
	}

	if o.cfg.ApprovalRequired(t.To) {
		req := &models.ApprovalRequest{
			ID:          uuid.New().String(),
			FromPhase:   from,
			ToPhase:     t.To,
			Reason:      t.Reason,
			RequestedAt: time.Now(),
		}
		o.st.PendingApproval = req

		if err := o.checkpoints.SaveSync(o.currentRecord()); err != nil {
			o.logger.Error("Failed to save checkpoint before approval wait", "error", err)
		}
		if err := o.states.Save(o.st); err != nil {
			return fmt.Errorf("failed to persist approval request: %w", err)
		}

		o.obs.ApprovalPending(req)
		o.logger.Info("Transition awaiting approval",
			"request", req.ID,
			"from", from,
			"to", t.To)
		return nil
	}

	return o.applyTransition(t.To, t.Reason)
}

// applyTransition commits a phase change: the outgoing phase's transcript
// is finalized, its checkpoint cleared, and the conversation reset so the
// incoming agent starts fresh.
func (o *Orchestrator) applyTransition(to models.Phase, reason string) error {
	from := o.st.Phase

	if err := o.checkpoints.WriteTranscript(from, o.messages); err != nil {
		o.logger.Warn("Failed to write final phase transcript", "error", err)
	}
	if err := o.checkpoints.Clear(from); err != nil {
		return fmt.Errorf("failed to clear checkpoint for %s: %w", from, err)
	}

	o.st.Phase = to
	o.st.CurrentPhaseIterations = 0
	o.st.TransitionLog = append(o.st.TransitionLog, models.Transition{
		From:   from,
		To:     to,
		Reason: reason,
		At:     time.Now(),
	})
	o.messages = nil

	if o.metrics != nil {
		o.metrics.SetCurrentPhase(o.st.ProjectID, to)
	}

	if err := o.states.Save(o.st); err != nil {
		return fmt.Errorf("failed to persist transition: %w", err)
	}

	o.obs.PhaseChanged(from, to, o.st)
	o.logger.Info("Phase transition", "from", from, "to", to, "reason", reason)
	return nil
}

// waitWhilePaused blocks while the control state says the workflow is
// paused, re-reading the state file on each poll.
func (o *Orchestrator) waitWhilePaused(ctx context.Context) error {
	logged := false
	for {
		disk, err := o.states.Load()
		if err != nil {
			return fmt.Errorf("failed to reload control state: %w", err)
		}
		o.st.Paused = disk.Paused
		if !o.st.Paused {
			return nil
		}
		if !logged {
			o.logger.Info("Workflow paused, waiting for resume", "project", o.st.ProjectID)
			logged = true
		}
		if err := o.sleepPoll(ctx); err != nil {
			return err
		}
	}
}

// awaitApproval polls until the pending approval request is resolved by a
// control command, then applies or refuses the deferred transition.
func (o *Orchestrator) awaitApproval(ctx context.Context, req *models.ApprovalRequest) error {
	o.logger.Info("Waiting for approval decision",
		"request", req.ID,
		"from", req.FromPhase,
		"to", req.ToPhase)

	for {
		disk, err := o.states.Load()
		if err != nil {
			return fmt.Errorf("failed to reload control state: %w", err)
		}

		if disk.PendingApproval == nil {
			o.st.PendingApproval = nil
			o.st.ApprovalHistory = disk.ApprovalHistory

			decision := findDecision(disk.ApprovalHistory, req.ID)
			switch {
			case decision == nil:
				o.logger.Warn("Approval request cleared without a decision, staying in phase", "request", req.ID)
				return o.states.Save(o.st)
			case decision.Approved:
				o.logger.Info("Transition approved", "request", req.ID)
				return o.applyTransition(req.ToPhase, req.Reason)
			default:
				feedback := decision.Feedback
				if feedback == "" {
					feedback = "no feedback provided"
				}
				o.messages = append(o.messages, models.NewUserMessage(
					"The phase transition was rejected by the operator: "+feedback+
						"\nAddress the feedback and continue working in the current phase."))
				o.logger.Info("Transition rejected", "request", req.ID, "feedback", feedback)
				return o.states.Save(o.st)
			}
		}

		o.st.Paused = disk.Paused
		if err := o.sleepPoll(ctx); err != nil {
			return err
		}
	}
}

func findDecision(history []models.ApprovalDecision, requestID string) *models.ApprovalDecision {
	for i := range history {
		if history[i].RequestID == requestID {
			return &history[i]
		}
	}
	return nil
}

func (o *Orchestrator) sleepPoll(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(o.cfg.Workflow.PollIntervalSeconds) * time.Second):
		return nil
	}
}
