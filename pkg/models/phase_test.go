package models

import "testing"

func TestPhaseTransitions(t *testing.T) {
	allowed := []struct{ from, to Phase }{
		{PhasePlanning, PhasePlanCritique},
		{PhasePlanCritique, PhaseWriting},
		{PhaseWriting, PhaseWriteCritique},
		{PhaseWriteCritique, PhaseWriting},
		{PhaseWriteCritique, PhaseComplete},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Errorf("Expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to Phase }{
		{PhasePlanning, PhaseWriting},
		{PhasePlanning, PhaseComplete},
		{PhasePlanCritique, PhasePlanning},
		{PhaseWriting, PhaseComplete},
		{PhaseComplete, PhaseWriting},
		{PhaseWriteCritique, PhasePlanCritique},
	}
	for _, tc := range forbidden {
		if tc.from.CanTransitionTo(tc.to) {
			t.Errorf("Expected %s -> %s to be forbidden", tc.from, tc.to)
		}
	}
}

func TestPhaseValidity(t *testing.T) {
	for _, p := range AllPhases {
		if !p.IsValid() {
			t.Errorf("Expected %s to be valid", p)
		}
	}
	if Phase("DRAFTING").IsValid() {
		t.Error("Expected unknown phase to be invalid")
	}

	if PhasePlanning.IsTerminal() || PhaseWriteCritique.IsTerminal() {
		t.Error("Expected only COMPLETE to be terminal")
	}
	if !PhaseComplete.IsTerminal() {
		t.Error("Expected COMPLETE to be terminal")
	}
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("WRITING")
	if err != nil {
		t.Fatalf("ParsePhase failed: %v", err)
	}
	if p != PhaseWriting {
		t.Errorf("Expected %s, got %s", PhaseWriting, p)
	}

	if _, err := ParsePhase("writing"); err == nil {
		t.Error("Expected lowercase phase name to be rejected")
	}
	if _, err := ParsePhase(""); err == nil {
		t.Error("Expected empty phase name to be rejected")
	}
}

func TestProgress(t *testing.T) {
	st := &WorkflowState{Phase: PhasePlanning}
	if got := st.Progress(); got != 0 {
		t.Errorf("Expected 0%% in planning, got %.1f", got)
	}

	st.Phase = PhasePlanCritique
	if got := st.Progress(); got != 10 {
		t.Errorf("Expected 10%% in plan critique, got %.1f", got)
	}

	st.Phase = PhaseWriting
	st.TotalChunks = 10
	st.ApprovedChunks = 5
	if got := st.Progress(); got != 60 {
		t.Errorf("Expected 60%% at half the chunks, got %.1f", got)
	}

	// No chunk count yet: stay at the phase base
	st.TotalChunks = 0
	if got := st.Progress(); got != 20 {
		t.Errorf("Expected 20%% without a chunk count, got %.1f", got)
	}

	st.Phase = PhaseComplete
	if got := st.Progress(); got != 100 {
		t.Errorf("Expected 100%% when complete, got %.1f", got)
	}
}

func TestIsComplete(t *testing.T) {
	st := &WorkflowState{TotalChunks: 3, ApprovedChunks: 2}
	if st.IsComplete() {
		t.Error("Expected incomplete with chunks remaining")
	}
	st.ApprovedChunks = 3
	if !st.IsComplete() {
		t.Error("Expected complete with all chunks approved")
	}
	empty := &WorkflowState{}
	if empty.IsComplete() {
		t.Error("Expected incomplete with no chunk count")
	}
}
