package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/absmach/flsim/pkg/telemetry"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	contentType = "application/json"
	serviceName = "flsim"
)

// MakeHandler serves the read API over recorded rounds together with health
// and Prometheus endpoints.
func MakeHandler(store telemetry.Store, instanceID string) http.Handler {
	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(encodeError),
	}

	mux := chi.NewRouter()

	mux.Route("/rounds", func(r chi.Router) {
		r.Get("/", kithttp.NewServer(
			listRoundsEndpoint(store),
			decodeListRounds,
			encodeResponse,
			opts...,
		).ServeHTTP)
		r.Get("/{round}", kithttp.NewServer(
			getRoundEndpoint(store),
			decodeGetRound,
			encodeResponse,
			opts...,
		).ServeHTTP)
	})

	mux.Get("/runs", kithttp.NewServer(
		listRunsEndpoint(store),
		kithttp.NopRequestDecoder,
		encodeResponse,
		opts...,
	).ServeHTTP)

	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_ = encodeResponse(context.Background(), w, healthRes{
			Status:     "pass",
			Service:    serviceName,
			InstanceID: instanceID,
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	return otelhttp.NewHandler(mux, serviceName)
}

func decodeListRounds(_ context.Context, r *http.Request) (interface{}, error) {
	q := r.URL.Query()

	offset, err := intParam(q.Get("offset"))
	if err != nil {
		return nil, errInvalidPage
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		return nil, errInvalidPage
	}

	return listRoundsReq{
		runID:  q.Get("run_id"),
		policy: q.Get("policy"),
		offset: offset,
		limit:  limit,
	}, nil
}

func decodeGetRound(_ context.Context, r *http.Request) (interface{}, error) {
	round, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil {
		return nil, errInvalidRound
	}

	return getRoundReq{
		runID: r.URL.Query().Get("run_id"),
		round: round,
	}, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}

	return strconv.Atoi(s)
}

func encodeResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", contentType)

	return json.NewEncoder(w).Encode(response)
}

func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", contentType)

	switch {
	case errors.Is(err, telemetry.ErrRecordNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, errInvalidRound),
		errors.Is(err, telemetry.ErrAmbiguousRun),
		errors.Is(err, errInvalidPage),
		errors.Is(err, errLimitTooHigh):
		w.WriteHeader(http.StatusBadRequest)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}

	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
