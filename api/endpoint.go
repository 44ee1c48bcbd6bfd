package api

import (
	"context"

	"github.com/absmach/flsim/pkg/telemetry"
	"github.com/go-kit/kit/endpoint"
)

const defaultLimit = 100

func listRoundsEndpoint(store telemetry.Store) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(listRoundsReq)
		if err := req.validate(); err != nil {
			return nil, err
		}
		if req.limit == 0 {
			req.limit = defaultLimit
		}

		records, total, err := store.List(ctx, telemetry.Filter{
			RunID:  req.runID,
			Policy: req.policy,
			Offset: req.offset,
			Limit:  req.limit,
		})
		if err != nil {
			return nil, err
		}

		return listRoundsRes{
			Total:   total,
			Offset:  req.offset,
			Limit:   req.limit,
			Records: records,
		}, nil
	}
}

func getRoundEndpoint(store telemetry.Store) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(getRoundReq)
		if err := req.validate(); err != nil {
			return nil, err
		}

		rec, err := store.Get(ctx, req.runID, req.round)
		if err != nil {
			return nil, err
		}

		return roundRes{Record: rec}, nil
	}
}

func listRunsEndpoint(store telemetry.Store) endpoint.Endpoint {
	return func(ctx context.Context, _ interface{}) (interface{}, error) {
		runs, err := store.Runs(ctx)
		if err != nil {
			return nil, err
		}
		if runs == nil {
			runs = []string{}
		}

		return listRunsRes{Runs: runs}, nil
	}
}
