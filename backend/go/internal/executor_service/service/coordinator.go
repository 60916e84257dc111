package service

import (
	"asterism/backend/go/internal/executor"
	"asterism/backend/go/internal/models"
	"asterism/backend/go/pkg/logger"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const serviceName = "executor_service"

// ExecutionRequest 是执行请求主题上的消息：一次运行的计划以及已有结果。
// PlanStart 只在请求自带结果时使用，含义同 executor.State.PlanStart。
type ExecutionRequest struct {
	RunID     string              `json:"run_id"`
	Plan      *models.Plan        `json:"plan"`
	Results   []models.TaskResult `json:"results,omitempty"`
	PlanStart int                 `json:"plan_start,omitempty"`
}

// ExecutionResponse 是发布到结果主题的执行状态。
type ExecutionResponse struct {
	executor.State
	// SetupError 非空表示传输无法建立，本次执行被中断。
	SetupError string `json:"setup_error,omitempty"`
}

// Stepper 执行一次调度步骤，*executor.Scheduler 实现了它。
type Stepper interface {
	Step(ctx context.Context, st executor.State) (executor.State, error)
}

// Publisher 发送以运行ID为键的消息。
type Publisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
}

// Coordinator orchestrates consuming execution requests, running one scheduler step and publishing the state.
type Coordinator struct {
	stepper   Stepper
	publisher Publisher
	store     executor.ResultStore
	logger    *logger.Logger
}

// NewCoordinator creates a new Coordinator. store may be nil.
func NewCoordinator(stepper Stepper, publisher Publisher, store executor.ResultStore, logger *logger.Logger) *Coordinator {
	return &Coordinator{
		stepper:   stepper,
		publisher: publisher,
		store:     store,
		logger:    logger,
	}
}

// ProcessRequest is the handler for each Kafka message.
func (c *Coordinator) ProcessRequest(ctx context.Context, msg kafka.Message) error {
	var req ExecutionRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		decodeErr := &models.DecodeError{Raw: string(msg.Value), Err: err}
		c.logger.WithError(models.NewErrorInfo(decodeErr)).Error("Failed to unmarshal execution request from Kafka")
		return decodeErr
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	runLogger := logger.New(serviceName, req.RunID)
	runLogger.Info("Starting to process execution request")

	st, err := c.initialState(ctx, req)
	if err != nil {
		runLogger.WithError(models.NewErrorInfo(err)).Warn("Failed to load stored results, starting from request results")
	}

	next, stepErr := c.stepper.Step(ctx, st)
	resp := ExecutionResponse{State: next}
	if stepErr != nil {
		resp.SetupError = stepErr.Error()
		runLogger.WithError(models.NewErrorInfo(stepErr)).Error("Execution step aborted")
	}

	if err := c.publisher.Publish(ctx, req.RunID, resp); err != nil {
		return fmt.Errorf("publish execution state for run %s: %w", req.RunID, err)
	}
	runLogger.WithPayload(map[string]interface{}{
		"phase":   string(next.Phase),
		"results": len(next.Results),
	}).Info("Successfully published execution state")
	return nil
}

// initialState 构造本次步骤的输入状态。请求未携带结果时从存储中恢复：
// 全部历史结果都保留，但只有末尾连续属于当前计划的结果参与调度。
func (c *Coordinator) initialState(ctx context.Context, req ExecutionRequest) (executor.State, error) {
	st := executor.State{
		RunID:     req.RunID,
		Phase:     executor.PhaseExecuting,
		Plan:      req.Plan,
		Results:   req.Results,
		PlanStart: req.PlanStart,
	}
	if len(req.Results) > 0 || c.store == nil {
		return st, nil
	}
	stored, err := c.store.List(ctx, req.RunID)
	if err != nil {
		return st, err
	}
	st.Results = stored
	st.PlanStart = planStart(stored, req.Plan.Fingerprint())
	return st, nil
}

// planStart 返回末尾连续由 planKey 对应计划产生的结果的起始下标。
func planStart(results []models.TaskResult, planKey string) int {
	if planKey == "" {
		return len(results)
	}
	i := len(results)
	for i > 0 && results[i-1].PlanKey == planKey {
		i--
	}
	return i
}
