package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xolohq/xolo/internal/progress"
	"github.com/xolohq/xolo/internal/xolo"
)

// handleCreateVersion implements POST /titles/{slug}/versions.
func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	var in xolo.Version
	if err := decodeJSON(r, &in); err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	in.Title = slug
	admin, host := requestAdminHost(r)

	s.runAsync(w, r, func(stream *progress.Stream) {
		ctx, cancel := newWorkflowContext()
		defer cancel()
		if _, err := s.Versions.Create(ctx, admin, host, &in, stream); err != nil {
			stream.Fail(err)
			return
		}
		stream.Done()
	})
}

// handleUpdateVersion implements PUT /titles/{slug}/versions/{version}.
func (s *Server) handleUpdateVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var in xolo.Version
	if err := decodeJSON(r, &in); err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	in.Title = vars["slug"]
	in.Version = vars["version"]
	admin, host := requestAdminHost(r)

	s.runAsync(w, r, func(stream *progress.Stream) {
		ctx, cancel := newWorkflowContext()
		defer cancel()
		if _, err := s.Versions.Update(ctx, admin, host, &in, stream); err != nil {
			stream.Fail(err)
			return
		}
		stream.Done()
	})
}

// handleDeleteVersion implements DELETE /titles/{slug}/versions/{version}.
func (s *Server) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	slug, version := vars["slug"], vars["version"]
	admin, host := requestAdminHost(r)

	s.runAsync(w, r, func(stream *progress.Stream) {
		ctx, cancel := newWorkflowContext()
		defer cancel()
		if err := s.Versions.Delete(ctx, admin, host, slug, version, stream); err != nil {
			stream.Fail(err)
			return
		}
		stream.Done()
	})
}
