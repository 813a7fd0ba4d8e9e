package workflow

import (
	"context"
	"fmt"

	"mailflow/internal/model"
)

// Request is the closed set of operations the coordinator accepts.
type Request interface {
	isRequest()
}

type ProcessRunRequest struct {
	Items   []model.InputItem
	Options Options
}

// FetchRunRequest fetches from the item source before running.
type FetchRunRequest struct {
	Limit   int
	Filter  Filter
	Options Options
}

type ProcessItemRequest struct {
	Item    model.InputItem
	Options Options
}

type HealthCheckRequest struct{}

type StatsRequest struct{}

func (ProcessRunRequest) isRequest()  {}
func (FetchRunRequest) isRequest()    {}
func (ProcessItemRequest) isRequest() {}
func (HealthCheckRequest) isRequest() {}
func (StatsRequest) isRequest()       {}

// Response has exactly one field set, matching the request.
type Response struct {
	Run    *RunResult             `json:"run,omitempty"`
	Item   *ItemResult            `json:"item,omitempty"`
	Health *model.HealthReport    `json:"health,omitempty"`
	Stats  *model.ProcessingStats `json:"stats,omitempty"`
}

func (c *Coordinator) Dispatch(ctx context.Context, rc *RunContext, req Request) (Response, error) {
	switch r := req.(type) {
	case ProcessRunRequest:
		run, err := c.ProcessRun(ctx, rc, r.Items, r.Options)
		return Response{Run: run}, err
	case FetchRunRequest:
		run, err := c.FetchAndRun(ctx, rc, r.Limit, r.Filter, r.Options)
		return Response{Run: run}, err
	case ProcessItemRequest:
		if err := r.Options.Validate(); err != nil {
			return Response{}, err
		}
		item := r.Item
		res := c.ProcessItem(ctx, rc, &item, r.Options)
		return Response{Item: &res}, nil
	case HealthCheckRequest:
		report := c.HealthCheck(ctx)
		return Response{Health: &report}, nil
	case StatsRequest:
		stats := rc.Stats()
		return Response{Stats: &stats}, nil
	default:
		return Response{}, fmt.Errorf("unsupported request %T", req)
	}
}
