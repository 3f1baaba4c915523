package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/tickbatch/pkg/model"
)

var knownOutcomes = map[model.RunOutcome]bool{
	model.RunOutcomeRunning: true,
	model.RunOutcomePassed:  true,
	model.RunOutcomeFailed:  true,
	model.RunOutcomeHalted:  true,
	model.RunOutcomeStopped: true,
}

// parseListOptions reads limit, offset and outcome from the query string.
func parseListOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()
	var errs []model.FieldError

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, model.FieldError{Field: "limit", Message: "must be an integer"})
		} else {
			opts.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, model.FieldError{Field: "offset", Message: "must be an integer"})
		} else {
			opts.Offset = n
		}
	}
	if v := q.Get("outcome"); v != "" {
		if !knownOutcomes[model.RunOutcome(v)] {
			errs = append(errs, model.FieldError{Field: "outcome", Message: "unknown outcome " + strconv.Quote(v)})
		}
		opts.Outcome = v
	}

	if len(errs) > 0 {
		return opts, model.NewValidationError("invalid query parameters", errs...)
	}
	opts.Clamp()
	return opts, nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		respondError(w, reqID, apiErr)
		return
	}

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		s.storeFailed(w, r, err)
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	respond(w, reqID, runs, model.NewPagination(total, opts))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.storeFailed(w, r, err)
		return
	}
	if run == nil {
		respondError(w, reqID, model.NewNotFoundError("run", id))
		return
	}
	respond(w, reqID, run, nil)
}

func (s *Server) handleListRunCases(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.storeFailed(w, r, err)
		return
	}
	if run == nil {
		respondError(w, reqID, model.NewNotFoundError("run", id))
		return
	}

	results, err := s.store.ListCaseResults(r.Context(), id)
	if err != nil {
		s.storeFailed(w, r, err)
		return
	}
	if results == nil {
		results = []*model.CaseResult{}
	}
	respond(w, reqID, results, nil)
}

// storeFailed reports a history store error as INTERNAL_ERROR.
func (s *Server) storeFailed(w http.ResponseWriter, r *http.Request, err error) {
	reqID := RequestIDFromContext(r.Context())
	s.logger.Error("store query failed", "route", routePattern(r), "error", err, "request_id", reqID)
	respondError(w, reqID, model.NewInternalError(err))
}
