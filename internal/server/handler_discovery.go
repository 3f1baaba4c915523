package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respond(w, reqID, discoveryResponse{
		Name:        "tickbatch API",
		Version:     "v1",
		Description: "Read-only history of batched test runs",
		Endpoints: []endpointInfo{
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
			{"/api/v1/runs", []string{"GET"}, "List runs, newest first. Accepts ?outcome=, ?limit=, ?offset="},
			{"/api/v1/runs/{id}", []string{"GET"}, "Single run with its summary"},
			{"/api/v1/runs/{id}/cases", []string{"GET"}, "Case results of a run in recording order"},
		},
	}, nil)
}
