package executor

import (
	"asterism/backend/go/internal/models"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTools 按工具名返回预设结果，记录调用顺序和并发峰值。
type fakeTools struct {
	mu       sync.Mutex
	calls    []string
	inputs   map[string]map[string]interface{}
	fail     map[string]bool
	block    map[string]bool
	delay    time.Duration
	setupErr map[string]bool

	running atomic.Int32
	peak    atomic.Int32
}

func newFakeTools() *fakeTools {
	return &fakeTools{
		inputs:   map[string]map[string]interface{}{},
		fail:     map[string]bool{},
		block:    map[string]bool{},
		setupErr: map[string]bool{},
	}
}

func (f *fakeTools) ValidateToolCall(server, tool string) error {
	if server != "fs" {
		return &models.ConfigError{Server: server, Tool: tool, Message: fmt.Sprintf("MCP server '%s' is not enabled", server)}
	}
	return nil
}

func (f *fakeTools) ExecuteTool(ctx context.Context, server, tool string, args map[string]interface{}) (models.ToolResult, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, tool)
	f.inputs[tool] = args
	fail, block, setup := f.fail[tool], f.block[tool], f.setupErr[tool]
	f.mu.Unlock()

	if setup {
		err := &models.SetupError{Transport: "stdio", Err: errors.New("spawn failed")}
		return models.Failed(err), err
	}
	if block {
		<-ctx.Done()
		return models.Failed(ctx.Err()), nil
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if fail {
		return models.Failed(fmt.Errorf("%s exploded", tool)), nil
	}
	return models.Succeeded(map[string]interface{}{"tool": tool}), nil
}

func (f *fakeTools) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func task(id string, deps ...string) models.Task {
	return models.Task{ID: id, Description: "task " + id, ToolCall: "fs:" + id, DependsOn: deps}
}

func resultIDs(results []models.TaskResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.TaskID)
	}
	return ids
}

func TestIndependentTasks(t *testing.T) {
	tasks := []models.Task{task("a"), task("b", "a"), task("c"), task("d", "a", "c")}

	require.Equal(t, []string{"a", "c"}, taskIDs(IndependentTasks(tasks, map[string]bool{})))
	require.Equal(t, []string{"b", "c"}, taskIDs(IndependentTasks(tasks, map[string]bool{"a": true})))
	require.Equal(t, []string{"b", "d"}, taskIDs(IndependentTasks(tasks, map[string]bool{"a": true, "c": true})))
	require.Empty(t, IndependentTasks(nil, nil))
}

func taskIDs(tasks []models.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

func TestIsLinear(t *testing.T) {
	require.True(t, IsLinear(&models.Plan{Tasks: []models.Task{task("a")}}))
	require.True(t, IsLinear(&models.Plan{Tasks: []models.Task{task("a"), task("b", "a"), task("c", "b")}}))
	require.False(t, IsLinear(&models.Plan{Tasks: []models.Task{task("a"), task("b")}}))
	require.False(t, IsLinear(&models.Plan{Tasks: []models.Task{task("a"), task("b", "a"), task("c", "a")}}))
	require.False(t, IsLinear(&models.Plan{Tasks: []models.Task{task("a", "x")}}))
	require.False(t, IsLinear(&models.Plan{}))
	require.False(t, IsLinear(nil))
}

func TestValidatePlan(t *testing.T) {
	require.NoError(t, ValidatePlan(&models.Plan{Tasks: []models.Task{task("a"), task("b", "a")}}))

	err := ValidatePlan(&models.Plan{Tasks: []models.Task{task("a"), task("b", "a", "ghost"), task("c", "c")}})
	var depErr *models.DependencyError
	require.True(t, errors.As(err, &depErr))
	require.Equal(t, map[string][]string{"b": {"ghost"}, "c": {"c"}}, depErr.Unmet)

	err = ValidatePlan(&models.Plan{Tasks: []models.Task{task("a"), task("a")}})
	require.True(t, errors.As(err, &depErr))
	require.Equal(t, []string{"a"}, depErr.MissingIDs())
}

func TestStep_EmptyPlanFinalizes(t *testing.T) {
	s := NewScheduler(NewRunner(newFakeTools()))
	in := State{RunID: "r1", Phase: PhaseExecuting, Plan: &models.Plan{}, Error: "kept"}

	out, err := s.Step(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, PhaseFinalizing, out.Phase)
	require.Equal(t, "kept", out.Error)
	require.Empty(t, out.Results)
}

func TestStep_LinearBatchStopsAtFirstFailure(t *testing.T) {
	tools := newFakeTools()
	tools.fail["b"] = true
	s := NewScheduler(NewRunner(tools))
	plan := &models.Plan{Tasks: []models.Task{task("a"), task("b", "a"), task("c", "b")}}

	out, err := s.Step(context.Background(), State{RunID: "r1", Plan: plan})
	require.NoError(t, err)
	require.Equal(t, PhaseEvaluating, out.Phase)
	require.Equal(t, []string{"a", "b"}, resultIDs(out.Results))
	require.True(t, out.Results[0].Success)
	require.False(t, out.Results[1].Success)
	require.Equal(t, "task b failed: b exploded", out.Error)
	require.Equal(t, []string{"a", "b"}, tools.called())

	// c 依赖失败的 b，永远不会被调度
	out, err = s.Step(context.Background(), out)
	require.NoError(t, err)
	require.NotNil(t, out.DependencyError)
	require.Equal(t, map[string][]string{"c": {"b"}}, out.DependencyError.Unmet)
	require.Equal(t, []string{"a", "b"}, tools.called())
}

func TestStep_LinearBatchMatchesSequentialSteps(t *testing.T) {
	plan := &models.Plan{Tasks: []models.Task{task("a"), task("b", "a"), task("c", "b")}}

	batch, err := NewScheduler(NewRunner(newFakeTools())).Step(context.Background(), State{Plan: plan})
	require.NoError(t, err)

	// 关闭并行后非线性路径逐个执行；这里用单任务步进模拟同一计划
	seq := State{Plan: plan}
	s := NewScheduler(NewRunner(newFakeTools()), WithParallel(false, 0))
	for _, tk := range plan.Tasks {
		res, err := s.runSingle(context.Background(), seq, tk)
		require.NoError(t, err)
		seq = seq.withResults(res...)
	}

	require.Equal(t, resultIDs(seq.Results), resultIDs(batch.Results))
	for i := range seq.Results {
		require.Equal(t, seq.Results[i].Success, batch.Results[i].Success)
		require.Equal(t, seq.Results[i].Result, batch.Results[i].Result)
	}
}

func TestStep_ParallelWaveWithFailedBranch(t *testing.T) {
	tools := newFakeTools()
	tools.fail["c"] = true
	tools.delay = 20 * time.Millisecond
	s := NewScheduler(NewRunner(tools))
	plan := &models.Plan{Tasks: []models.Task{task("a"), task("b", "a"), task("c", "a"), task("d", "c")}}

	// a 单独执行
	st, err := s.Step(context.Background(), State{RunID: "r1", Plan: plan})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, resultIDs(st.Results))

	// b、c 组成一个波次，结果按计划顺序合并
	st, err = s.Step(context.Background(), st)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, resultIDs(st.Results))
	require.True(t, st.Results[1].Success)
	require.False(t, st.Results[2].Success)
	require.Equal(t, int32(2), tools.peak.Load())
	require.Equal(t, map[string]bool{"a": true, "b": true}, st.CompletedIDs())
	require.Equal(t, map[string]bool{"c": true}, st.FailedIDs())

	// d 依赖失败的 c
	st, err = s.Step(context.Background(), st)
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, st.DependencyError.MissingIDs())
	require.NotContains(t, tools.called(), "d")
	require.Equal(t, []string{"d"}, taskIDs(st.Remaining()))
}

func TestStep_ParallelDisabledRunsOneTask(t *testing.T) {
	tools := newFakeTools()
	s := NewScheduler(NewRunner(tools), WithParallel(false, 0))
	plan := &models.Plan{Tasks: []models.Task{task("a"), task("b")}}

	st, err := s.Step(context.Background(), State{Plan: plan})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, resultIDs(st.Results))
}

func TestStep_MaxParallelBoundsWave(t *testing.T) {
	tools := newFakeTools()
	tools.delay = 20 * time.Millisecond
	s := NewScheduler(NewRunner(tools), WithParallel(true, 2))
	plan := &models.Plan{Tasks: []models.Task{task("a"), task("b"), task("c"), task("d"), task("e")}}

	st, err := s.Step(context.Background(), State{Plan: plan})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, resultIDs(st.Results))
	require.LessOrEqual(t, tools.peak.Load(), int32(2))
}

func TestStep_WaveTimeoutRecordsFailures(t *testing.T) {
	tools := newFakeTools()
	tools.block["b"] = true
	s := NewScheduler(NewRunner(tools), WithWaveTimeout(50*time.Millisecond))
	plan := &models.Plan{Tasks: []models.Task{task("a"), task("b")}}

	start := time.Now()
	st, err := s.Step(context.Background(), State{Plan: plan})
	require.NoError(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, []string{"a", "b"}, resultIDs(st.Results))
	require.True(t, st.Results[0].Success)
	require.False(t, st.Results[1].Success)
}

func TestStep_MissingDependencyRejected(t *testing.T) {
	tools := newFakeTools()
	s := NewScheduler(NewRunner(tools))
	plan := &models.Plan{Tasks: []models.Task{task("a"), task("b", "ghost")}}

	st, err := s.Step(context.Background(), State{Plan: plan})
	require.NoError(t, err)
	require.Equal(t, PhaseEvaluating, st.Phase)
	require.NotNil(t, st.DependencyError)
	require.Equal(t, []string{"ghost"}, st.DependencyError.MissingIDs())
	require.Empty(t, tools.called())
}

func TestStep_SetupErrorIsReturned(t *testing.T) {
	tools := newFakeTools()
	tools.setupErr["b"] = true
	tools.delay = 10 * time.Millisecond
	s := NewScheduler(NewRunner(tools))
	plan := &models.Plan{Tasks: []models.Task{task("a"), task("b")}}

	st, err := s.Step(context.Background(), State{Plan: plan})
	var setupErr *models.SetupError
	require.True(t, errors.As(err, &setupErr))
	require.Len(t, st.Results, 2)
	require.True(t, st.Results[0].Success)
}

type memStore struct {
	mu   sync.Mutex
	runs map[string][]models.TaskResult
}

func (m *memStore) Append(_ context.Context, runID string, results ...models.TaskResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = map[string][]models.TaskResult{}
	}
	m.runs[runID] = append(m.runs[runID], results...)
	return nil
}

func (m *memStore) List(_ context.Context, runID string) ([]models.TaskResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TaskResult(nil), m.runs[runID]...), nil
}

type recordingSink struct {
	mu      sync.Mutex
	entries []models.TaskLogEntry
}

func (r *recordingSink) LogTaskProgress(_ context.Context, e *models.TaskLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return nil
}

func (r *recordingSink) statuses() []models.TaskLogStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.TaskLogStatus, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Status)
	}
	return out
}

// continueEvaluator 在没有失败时继续，否则结束。
type continueEvaluator struct{ calls int }

func (e *continueEvaluator) Evaluate(_ context.Context, st State) (Decision, string, error) {
	e.calls++
	if st.Error != "" {
		return DecisionFinalize, "failure", nil
	}
	return DecisionContinue, "progress", nil
}

func TestRun_DrivesToDone(t *testing.T) {
	tools := newFakeTools()
	store := &memStore{}
	sink := &recordingSink{}
	s := NewScheduler(NewRunner(tools, WithProgressSink(sink)), WithResultStore(store), WithSchedulerSink(sink))
	plan := &models.Plan{Tasks: []models.Task{task("a"), task("b", "a"), task("c", "a"), task("d", "b", "c")}}

	eval := &continueEvaluator{}
	st, err := s.Run(context.Background(), State{RunID: "run-1", Plan: plan}, eval)
	require.NoError(t, err)
	require.Equal(t, PhaseDone, st.Phase)
	require.Equal(t, []string{"a", "b", "c", "d"}, resultIDs(st.Results))
	require.Equal(t, 1, st.Iteration)

	stored, err := store.List(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, stored, 4)
	for _, r := range stored {
		require.Equal(t, plan.Fingerprint(), r.PlanKey)
	}
	require.Empty(t, st.Results[0].PlanKey)

	statuses := sink.statuses()
	require.Equal(t, models.StatusExecuting, statuses[0])
	require.Equal(t, models.StatusFinished, statuses[len(statuses)-1])
	require.Contains(t, statuses, models.StatusCallingMCPTool)
	require.Contains(t, statuses, models.StatusTaskSucceeded)
}

func TestRun_EmptyPlanGoesStraightToFinalizing(t *testing.T) {
	s := NewScheduler(NewRunner(newFakeTools()))
	eval := &continueEvaluator{}
	st, err := s.Run(context.Background(), State{Plan: &models.Plan{}}, eval)
	require.NoError(t, err)
	require.Equal(t, PhaseDone, st.Phase)
	require.Equal(t, 0, eval.calls)
}

type scriptedPlanner struct{ plans []*models.Plan }

func (p *scriptedPlanner) Plan(_ context.Context, _ State) (*models.Plan, error) {
	next := p.plans[0]
	if len(p.plans) > 1 {
		p.plans = p.plans[1:]
	}
	return next, nil
}

type replanOnFailure struct{}

func (replanOnFailure) Evaluate(_ context.Context, st State) (Decision, string, error) {
	switch {
	case st.Error != "":
		return DecisionReplan, "retry", nil
	case len(st.Remaining()) == 0:
		return DecisionFinalize, "done", nil
	default:
		return DecisionContinue, "", nil
	}
}

func TestRun_ReplanReplacesPlan(t *testing.T) {
	tools := newFakeTools()
	tools.fail["a"] = true
	planner := &scriptedPlanner{plans: []*models.Plan{
		{Tasks: []models.Task{task("a")}},
		{Tasks: []models.Task{task("b")}},
	}}
	s := NewScheduler(NewRunner(tools), WithPlanner(planner))

	st, err := s.Run(context.Background(), State{RunID: "r"}, replanOnFailure{})
	require.NoError(t, err)
	require.Equal(t, PhaseDone, st.Phase)
	require.Equal(t, 2, st.Iteration)
	require.Equal(t, []string{"a", "b"}, resultIDs(st.Results))
	require.Equal(t, []string{"b"}, resultIDs(st.CurrentResults()))
}

func TestRun_MaxIterations(t *testing.T) {
	tools := newFakeTools()
	tools.fail["a"] = true
	planner := &scriptedPlanner{plans: []*models.Plan{{Tasks: []models.Task{task("a")}}}}
	s := NewScheduler(NewRunner(tools), WithPlanner(planner), WithMaxIterations(3))

	st, err := s.Run(context.Background(), State{}, replanOnFailure{})
	require.NoError(t, err)
	require.Equal(t, PhaseDone, st.Phase)
	require.Equal(t, 3, st.Iteration)
	require.Len(t, st.Results, 3)
	require.Contains(t, st.Error, "3 planning iterations")
}

type badEvaluator struct{}

func (badEvaluator) Evaluate(context.Context, State) (Decision, string, error) {
	return "maybe", "", nil
}

func TestRun_UnknownDecision(t *testing.T) {
	s := NewScheduler(NewRunner(newFakeTools()))
	_, err := s.Run(context.Background(), State{Plan: &models.Plan{Tasks: []models.Task{task("a")}}}, badEvaluator{})
	require.EqualError(t, err, `unknown evaluation decision: "maybe"`)
}
