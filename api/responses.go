package api

import "github.com/absmach/flsim/pkg/telemetry"

type listRoundsRes struct {
	Total   int                `json:"total"`
	Offset  int                `json:"offset"`
	Limit   int                `json:"limit"`
	Records []telemetry.Record `json:"records"`
}

type roundRes struct {
	telemetry.Record
}

type listRunsRes struct {
	Runs []string `json:"runs"`
}

type healthRes struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	InstanceID string `json:"instance_id"`
}
