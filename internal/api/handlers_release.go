package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xolohq/xolo/internal/progress"
)

type releaseRequest struct {
	Version string `json:"version" validate:"required,max=128"`
}

// handleRelease implements POST /titles/{slug}/release: iterates every
// version of the title, oldest first, so no intermediate state has two
// versions simultaneously released.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	var in releaseRequest
	if err := decodeValid(r, &in); err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	admin, host := requestAdminHost(r)

	s.runAsync(w, r, func(stream *progress.Stream) {
		ctx, cancel := newWorkflowContext()
		defer cancel()
		if _, err := s.Versions.Release(ctx, admin, host, slug, in.Version, stream); err != nil {
			stream.Fail(err)
			return
		}
		stream.Done()
	})
}
