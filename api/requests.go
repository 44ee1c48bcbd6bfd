package api

import "errors"

const maxLimit = 1000

var (
	errInvalidRound = errors.New("round must be a non-negative integer")
	errInvalidPage  = errors.New("offset and limit must be non-negative integers")
	errLimitTooHigh = errors.New("limit exceeds maximum")
)

type listRoundsReq struct {
	runID  string
	policy string
	offset int
	limit  int
}

func (req listRoundsReq) validate() error {
	if req.offset < 0 || req.limit < 0 {
		return errInvalidPage
	}
	if req.limit > maxLimit {
		return errLimitTooHigh
	}

	return nil
}

type getRoundReq struct {
	runID string
	round int
}

func (req getRoundReq) validate() error {
	if req.round < 0 {
		return errInvalidRound
	}

	return nil
}
