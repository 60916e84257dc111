package executor

import "asterism/backend/go/internal/models"

// Phase 是执行状态机所处的阶段。
type Phase string

const (
	PhasePlanning   Phase = "PLANNING"
	PhaseExecuting  Phase = "EXECUTING"
	PhaseEvaluating Phase = "EVALUATING"
	PhaseReplanning Phase = "REPLANNING"
	PhaseFinalizing Phase = "FINALIZING"
	PhaseDone       Phase = "DONE"
)

// State 是一次运行在各阶段之间传递的数据。Step 返回新的 State，不修改入参。
type State struct {
	RunID           string                  `json:"run_id"`
	Phase           Phase                   `json:"phase"`
	Plan            *models.Plan            `json:"plan,omitempty"`
	Results         []models.TaskResult     `json:"results"`
	Error           string                  `json:"error,omitempty"`
	DependencyError *models.DependencyError `json:"dependency_error,omitempty"`
	Iteration       int                     `json:"iteration"`
	// PlanStart 是当前计划的第一条结果在 Results 中的下标，更早的结果属于被替换的计划。
	PlanStart int `json:"plan_start"`
}

// WithPlan 返回替换了计划的副本。历史结果保留，但不再参与当前计划的调度。
func (s State) WithPlan(plan *models.Plan) State {
	s.Plan = plan
	s.PlanStart = len(s.Results)
	s.Error = ""
	s.DependencyError = nil
	return s
}

// CurrentResults 返回属于当前计划的结果。
func (s State) CurrentResults() []models.TaskResult {
	if s.PlanStart <= 0 || s.PlanStart > len(s.Results) {
		return s.Results
	}
	return s.Results[s.PlanStart:]
}

// CompletedIDs 返回成功完成的任务ID。失败的任务不计入，依赖它们的任务不会被调度。
func (s State) CompletedIDs() map[string]bool {
	out := make(map[string]bool, len(s.Results))
	for _, r := range s.CurrentResults() {
		if r.Success {
			out[r.TaskID] = true
		}
	}
	return out
}

// FailedIDs 返回已失败的任务ID。
func (s State) FailedIDs() map[string]bool {
	out := make(map[string]bool)
	for _, r := range s.CurrentResults() {
		if !r.Success {
			out[r.TaskID] = true
		}
	}
	return out
}

// Remaining 返回计划中还没有任何结果的任务，保持计划顺序。
func (s State) Remaining() []models.Task {
	if s.Plan == nil {
		return nil
	}
	done := make(map[string]bool, len(s.Results))
	for _, r := range s.CurrentResults() {
		done[r.TaskID] = true
	}
	var out []models.Task
	for _, t := range s.Plan.Tasks {
		if !done[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

// ResultFor 返回任务最近一次的结果。
func (s State) ResultFor(taskID string) (models.TaskResult, bool) {
	current := s.CurrentResults()
	for i := len(current) - 1; i >= 0; i-- {
		if current[i].TaskID == taskID {
			return current[i], true
		}
	}
	return models.TaskResult{}, false
}

// withResults 返回追加了结果的副本，原切片不受影响。
func (s State) withResults(results ...models.TaskResult) State {
	merged := make([]models.TaskResult, 0, len(s.Results)+len(results))
	merged = append(merged, s.Results...)
	merged = append(merged, results...)
	s.Results = merged
	return s
}
