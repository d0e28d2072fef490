package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Status is a node's terminal or transient state during execution.
type Status string

const (
	StatusSkipped        Status = "skipped"
	StatusWaitingConfirm Status = "waiting_confirm"
	StatusRunning        Status = "running"
	StatusDone           Status = "done"
	StatusError          Status = "error"
	StatusCancelled      Status = "cancelled"
)

// ProgressFunc reports a node's status transition to the caller's UI
// layer: (nodeID, status, progress in [0,1], message).
type ProgressFunc func(nodeID string, status Status, progress float64, message string)

// ConfirmFunc requests user confirmation of a node's params before a
// semi-auto confirm-required node runs, returning the (possibly
// edited) params to execute with.
type ConfirmFunc func(ctx context.Context, nodeID string, params map[string]any, timeoutSec int) (map[string]any, error)

// fatalNodes aborts the whole pipeline run on error; every other node
// just logs and continues to the next one.
var fatalNodes = map[string]bool{
	"load_media":    true,
	"plan_timeline": true,
	"render_video":  true,
}

// RunResult is the executor's final verdict.
type RunResult struct {
	Status     string // "done" | "error" | "cancelled"
	FailedNode string
	Results    map[string]NodeOutcome
}

// NodeOutcome records one node's terminal result in the run summary.
type NodeOutcome struct {
	Status  string
	Summary string
	IsError bool
	Err     string
}

// Executor runs an EditTemplate over the node registry's fixed
// topological order, driving each node through the interceptor Chain.
type Executor struct {
	chain *Chain
	now   func() time.Time
}

// NewExecutor builds an Executor over the given interceptor chain.
func NewExecutor(chain *Chain) *Executor {
	return &Executor{chain: chain, now: time.Now}
}

// Run executes template's nodes in DAG order against rt, reporting
// progress and requesting confirmation as configured. cancel is
// polled before every node.
func (ex *Executor) Run(ctx context.Context, rt *RuntimeContext, template EditTemplate, onProgress ProgressFunc, onConfirm ConfirmFunc, cancel func() bool) RunResult {
	plan := buildExecutionPlan(template)
	total := len(plan)
	results := make(map[string]NodeOutcome, total)

	for idx, nodeCfg := range plan {
		nodeID := nodeCfg.NodeID

		if cancel != nil && cancel() {
			if onProgress != nil {
				onProgress(nodeID, StatusCancelled, float64(idx)/float64(total), "cancelled by user")
			}
			return RunResult{Status: "cancelled", Results: results}
		}

		if nodeCfg.Mode == ModeSkip {
			if onProgress != nil {
				onProgress(nodeID, StatusSkipped, float64(idx+1)/float64(total), "skipped")
			}
			results[nodeID] = NodeOutcome{Status: "skipped"}
			continue
		}

		params := cloneParams(nodeCfg.Params)
		if template.AutoMode == AutoModeSemi && nodeCfg.ConfirmRequired && onConfirm != nil {
			if onProgress != nil {
				onProgress(nodeID, StatusWaitingConfirm, float64(idx)/float64(total),
					fmt.Sprintf("awaiting confirmation (%ds)", template.SemiAutoTimeoutSec))
			}
			params = ex.confirmOrTimeout(ctx, nodeID, params, template.SemiAutoTimeoutSec, onConfirm)
		}

		if onProgress != nil {
			onProgress(nodeID, StatusRunning, float64(idx)/float64(total), "running "+nodeID)
		}

		result, err := ex.chain.Invoke(ctx, rt, nodeID, string(nodeCfg.Mode), params)
		if err != nil {
			results[nodeID] = NodeOutcome{Status: "error", Err: err.Error()}
			if onProgress != nil {
				onProgress(nodeID, StatusError, float64(idx+1)/float64(total), err.Error())
			}
			if fatalNodes[nodeID] {
				return RunResult{Status: "error", FailedNode: nodeID, Results: results}
			}
			continue
		}

		results[nodeID] = NodeOutcome{Status: "done", Summary: result.Summary, IsError: result.IsError}
		status := StatusDone
		msg := result.Summary
		if result.IsError {
			status = StatusError
			if msg == "" {
				msg = "execution failed"
			}
		} else if msg == "" {
			msg = "done"
		}
		if onProgress != nil {
			onProgress(nodeID, status, float64(idx+1)/float64(total), msg)
		}
		if result.IsError && fatalNodes[nodeID] {
			return RunResult{Status: "error", FailedNode: nodeID, Results: results}
		}
	}

	return RunResult{Status: "done", Results: results}
}

// buildExecutionPlan lays template's node configs out in
// DefaultPipelineOrder, filling in mandatory-auto or optional-skip
// defaults for any node the template doesn't name.
func buildExecutionPlan(template EditTemplate) []NodeConfig {
	byID := make(map[string]NodeConfig, len(template.Nodes))
	for _, nc := range template.Nodes {
		byID[nc.NodeID] = nc
	}

	plan := make([]NodeConfig, 0, len(DefaultPipelineOrder))
	for _, nodeID := range DefaultPipelineOrder {
		if nc, ok := byID[nodeID]; ok {
			plan = append(plan, nc)
			continue
		}
		if MandatoryNodes[nodeID] {
			plan = append(plan, NodeConfig{NodeID: nodeID, Mode: ModeAuto})
		} else {
			plan = append(plan, NodeConfig{NodeID: nodeID, Mode: ModeSkip})
		}
	}
	return plan
}

// confirmOrTimeout requests confirmation, falling back to the
// template-declared params if it doesn't arrive within timeoutSec —
// it never fails the node outright.
func (ex *Executor) confirmOrTimeout(ctx context.Context, nodeID string, params map[string]any, timeoutSec int, onConfirm ConfirmFunc) map[string]any {
	confirmCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	type result struct {
		params map[string]any
		err    error
	}
	done := make(chan result, 1)
	go func() {
		p, err := onConfirm(confirmCtx, nodeID, params, timeoutSec)
		done <- result{params: p, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil || r.params == nil {
			return params
		}
		return r.params
	case <-confirmCtx.Done():
		return params
	}
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
