// Package executor 按依赖关系调度计划中的任务，并驱动 规划→执行→评估 状态机。
package executor

import (
	"asterism/backend/go/internal/models"
	"asterism/backend/go/pkg/logger"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultWaveTimeout 是一轮并行任务的默认超时。
	DefaultWaveTimeout = 120 * time.Second
	// DefaultMaxIterations 限制重新规划的次数。
	DefaultMaxIterations = 5
)

// Decision 是评估器给出的下一步。
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionReplan   Decision = "replan"
	DecisionFinalize Decision = "finalize"
)

// Evaluator 在每次执行后决定下一步。
type Evaluator interface {
	Evaluate(ctx context.Context, state State) (Decision, string, error)
}

// Planner 在 PLANNING 阶段生成（或替换）计划。
type Planner interface {
	Plan(ctx context.Context, state State) (*models.Plan, error)
}

// ResultStore 追加保存任务结果。
type ResultStore interface {
	Append(ctx context.Context, runID string, results ...models.TaskResult) error
	List(ctx context.Context, runID string) ([]models.TaskResult, error)
}

// Scheduler 选择执行模式并运行任务。
type Scheduler struct {
	runner        *Runner
	planner       Planner
	store         ResultStore
	sink          ProgressSink
	log           *logger.Logger
	parallel      bool
	maxParallel   int
	waveTimeout   time.Duration
	maxIterations int
}

// SchedulerOption 定义了配置 Scheduler 的函数。
type SchedulerOption func(*Scheduler)

// WithParallel 启用或关闭并行波次。maxParallel 为 0 表示不限制并发数。
func WithParallel(enabled bool, maxParallel int) SchedulerOption {
	return func(s *Scheduler) {
		s.parallel = enabled
		s.maxParallel = maxParallel
	}
}

// WithWaveTimeout 设置一轮并行任务的超时。
func WithWaveTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.waveTimeout = d
		}
	}
}

// WithPlanner 设置规划器。未设置时 PLANNING 阶段沿用已有计划。
func WithPlanner(p Planner) SchedulerOption {
	return func(s *Scheduler) { s.planner = p }
}

// WithResultStore 设置结果存储，写入失败只记录日志。
func WithResultStore(store ResultStore) SchedulerOption {
	return func(s *Scheduler) { s.store = store }
}

// WithSchedulerSink 设置阶段事件的接收方。
func WithSchedulerSink(sink ProgressSink) SchedulerOption {
	return func(s *Scheduler) { s.sink = sink }
}

// WithMaxIterations 设置最多规划几轮。
func WithMaxIterations(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// WithSchedulerLogger 设置日志记录器。
func WithSchedulerLogger(l *logger.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = l }
}

// NewScheduler 创建调度器，默认启用不限并发的并行波次。
func NewScheduler(runner *Runner, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		runner:        runner,
		log:           logger.Discard(),
		parallel:      true,
		waveTimeout:   DefaultWaveTimeout,
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Step 执行一次 EXECUTING 阶段并返回新的状态。
//
// 空计划直接进入 FINALIZING；无法满足的依赖记录在状态的 DependencyError 中。
// 只有 *models.SetupError 会作为错误返回，此时已完成任务的结果仍然合并到状态里。
func (s *Scheduler) Step(ctx context.Context, st State) (State, error) {
	if st.Plan == nil || len(st.Plan.Tasks) == 0 {
		st.Phase = PhaseFinalizing
		return st, nil
	}
	st.Error = ""
	st.DependencyError = nil

	log := s.log.With("run_id", st.RunID)
	if err := ValidatePlan(st.Plan); err != nil {
		return s.rejectDependencies(st, err, log), nil
	}

	remaining := st.Remaining()
	if len(remaining) == 0 {
		st.Phase = PhaseEvaluating
		return st, nil
	}
	completed := st.CompletedIDs()
	ready := IndependentTasks(remaining, completed)
	if len(ready) == 0 {
		return s.rejectDependencies(st, blockedTasks(remaining, completed), log), nil
	}

	var (
		results []models.TaskResult
		err     error
	)
	switch {
	case IsLinear(st.Plan):
		s.emit(ctx, st.RunID, models.StatusExecuting, fmt.Sprintf("顺序执行 %d 个任务", len(remaining)))
		results, err = s.runLinear(ctx, st, remaining)
	case s.parallel && len(ready) >= 2:
		s.emit(ctx, st.RunID, models.StatusExecuting, fmt.Sprintf("并行执行 %d 个任务", len(ready)))
		results, err = s.runWave(ctx, st, ready)
	default:
		s.emit(ctx, st.RunID, models.StatusExecuting, fmt.Sprintf("执行任务 %s", ready[0].ID))
		results, err = s.runSingle(ctx, st, ready[0])
	}

	next := st.withResults(results...)
	next.Phase = PhaseEvaluating
	for _, r := range results {
		if !r.Success {
			next.Error = fmt.Sprintf("task %s failed: %s", r.TaskID, r.Error)
			break
		}
	}
	s.persist(ctx, st.RunID, st.Plan.Fingerprint(), results, log)

	if err != nil {
		log.WithError(models.NewErrorInfo(err)).Error("任务执行中断")
		s.emit(ctx, st.RunID, models.StatusError, err.Error())
		return next, err
	}
	log.With("executed", len(results)).Info("执行步骤完成")
	return next, nil
}

func (s *Scheduler) rejectDependencies(st State, err error, log *logger.Logger) State {
	var depErr *models.DependencyError
	if errors.As(err, &depErr) {
		st.DependencyError = depErr
	}
	st.Error = err.Error()
	st.Phase = PhaseEvaluating
	log.With("error", st.Error).Warn("存在无法满足的依赖")
	return st
}

// runLinear 依次执行剩余任务，第一次失败后立即停止。
func (s *Scheduler) runLinear(ctx context.Context, st State, tasks []models.Task) ([]models.TaskResult, error) {
	completed := st.CompletedIDs()
	prior := st.Results
	var out []models.TaskResult
	for _, t := range tasks {
		if len(IndependentTasks([]models.Task{t}, completed)) == 0 {
			break
		}
		res, err := s.runner.Run(ctx, st.RunID, t, prior)
		out = append(out, res)
		prior = append(append([]models.TaskResult(nil), prior...), res)
		if err != nil {
			return out, err
		}
		if !res.Success {
			break
		}
		completed[t.ID] = true
	}
	return out, nil
}

func (s *Scheduler) runSingle(ctx context.Context, st State, t models.Task) ([]models.TaskResult, error) {
	res, err := s.runner.Run(ctx, st.RunID, t, st.Results)
	return []models.TaskResult{res}, err
}

// runWave 并发执行一组互不依赖的任务，结果按计划顺序合并。
// 超时未完成的任务记为失败。
func (s *Scheduler) runWave(ctx context.Context, st State, tasks []models.Task) ([]models.TaskResult, error) {
	waveCtx, cancel := context.WithTimeout(ctx, s.waveTimeout)
	defer cancel()

	var (
		mu       sync.Mutex
		slots    = make([]*models.TaskResult, len(tasks))
		setupErr error
	)
	g := new(errgroup.Group)
	if s.maxParallel > 0 {
		g.SetLimit(s.maxParallel)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i, t := range tasks {
			if waveCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				res, err := s.runner.Run(waveCtx, st.RunID, t, st.Results)
				mu.Lock()
				defer mu.Unlock()
				slots[i] = &res
				if err != nil && setupErr == nil {
					setupErr = err
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-waveCtx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]models.TaskResult, len(tasks))
	for i, t := range tasks {
		if slots[i] != nil {
			out[i] = *slots[i]
			continue
		}
		reason := fmt.Errorf("task %s did not finish within wave timeout %s", t.ID, s.waveTimeout)
		if ctx.Err() != nil {
			reason = fmt.Errorf("task %s cancelled: %w", t.ID, ctx.Err())
		}
		out[i] = models.NewTaskResult(t.ID, models.Failed(reason))
	}
	return out, setupErr
}

// Run 驱动状态机直到 DONE。
func (s *Scheduler) Run(ctx context.Context, st State, evaluator Evaluator) (State, error) {
	if st.Phase == "" {
		st.Phase = PhasePlanning
	}
	log := s.log.With("run_id", st.RunID)
	stalled := false

	for st.Phase != PhaseDone {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		log.With("phase", string(st.Phase)).Debug("进入阶段")

		switch st.Phase {
		case PhasePlanning:
			if s.planner != nil {
				plan, err := s.planner.Plan(ctx, st)
				if err != nil {
					return st, fmt.Errorf("planning failed: %w", err)
				}
				st = st.WithPlan(plan)
			}
			st.Iteration++
			if st.Plan == nil || len(st.Plan.Tasks) == 0 {
				st.Phase = PhaseFinalizing
			} else {
				st.Phase = PhaseExecuting
			}

		case PhaseExecuting:
			before := len(st.Results)
			next, err := s.Step(ctx, st)
			st = next
			if err != nil {
				return st, err
			}
			stalled = len(st.Results) == before

		case PhaseEvaluating:
			decision, reasoning, err := evaluator.Evaluate(ctx, st)
			if err != nil {
				return st, fmt.Errorf("evaluation failed: %w", err)
			}
			log.With("decision", string(decision)).With("reasoning", reasoning).Info("评估完成")
			switch decision {
			case DecisionContinue:
				if stalled || len(st.Remaining()) == 0 {
					st.Phase = PhaseFinalizing
				} else {
					st.Phase = PhaseExecuting
				}
			case DecisionReplan:
				st.Phase = PhaseReplanning
			case DecisionFinalize:
				st.Phase = PhaseFinalizing
			default:
				return st, fmt.Errorf("unknown evaluation decision: %q", decision)
			}

		case PhaseReplanning:
			if st.Iteration >= s.maxIterations {
				st.Error = fmt.Sprintf("stopped after %d planning iterations", st.Iteration)
				st.Phase = PhaseFinalizing
			} else {
				st.Phase = PhasePlanning
			}

		case PhaseFinalizing:
			s.emit(ctx, st.RunID, models.StatusFinished, fmt.Sprintf("运行结束，共 %d 条结果", len(st.Results)))
			st.Phase = PhaseDone

		default:
			return st, fmt.Errorf("unknown phase: %q", st.Phase)
		}
	}
	return st, nil
}

// persist 保存本步结果，并标记产生它们的计划。
func (s *Scheduler) persist(ctx context.Context, runID, planKey string, results []models.TaskResult, log *logger.Logger) {
	if s.store == nil || len(results) == 0 {
		return
	}
	stamped := make([]models.TaskResult, len(results))
	for i, r := range results {
		r.PlanKey = planKey
		stamped[i] = r
	}
	if err := s.store.Append(ctx, runID, stamped...); err != nil {
		log.With("error", err.Error()).Warn("保存任务结果失败")
	}
}

func (s *Scheduler) emit(ctx context.Context, runID string, status models.TaskLogStatus, msg string) {
	if s.sink == nil {
		return
	}
	entry := &models.TaskLogEntry{RunID: runID, Timestamp: time.Now(), Status: status, Message: msg}
	if err := s.sink.LogTaskProgress(ctx, entry); err != nil {
		s.log.With("error", err.Error()).Warn("发送进度事件失败")
	}
}
