package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xolohq/xolo/internal/progress"
	"github.com/xolohq/xolo/internal/xolo"
)

// handleCreateTitle implements POST /titles.
func (s *Server) handleCreateTitle(w http.ResponseWriter, r *http.Request) {
	var in xolo.Title
	if err := decodeJSON(r, &in); err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	in.IconLocalPath = s.resolveUpload(in.IconUploadID)
	admin, host := requestAdminHost(r)

	s.runAsync(w, r, func(stream *progress.Stream) {
		ctx, cancel := newWorkflowContext()
		defer cancel()
		if _, err := s.Titles.Create(ctx, admin, host, &in, stream); err != nil {
			stream.Fail(err)
			return
		}
		stream.Done()
	})
}

// handleUpdateTitle implements PUT /titles/{slug}. The slug in the path
// wins over any body mismatch.
func (s *Server) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	var in xolo.Title
	if err := decodeJSON(r, &in); err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	in.Slug = slug
	in.IconLocalPath = s.resolveUpload(in.IconUploadID)
	admin, host := requestAdminHost(r)

	s.runAsync(w, r, func(stream *progress.Stream) {
		ctx, cancel := newWorkflowContext()
		defer cancel()
		if _, err := s.Titles.Update(ctx, admin, host, &in, stream); err != nil {
			stream.Fail(err)
			return
		}
		stream.Done()
	})
}

// handleDeleteTitle implements DELETE /titles/{slug}: cascades through
// every version oldest to newest.
func (s *Server) handleDeleteTitle(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	admin, host := requestAdminHost(r)

	s.runAsync(w, r, func(stream *progress.Stream) {
		ctx, cancel := newWorkflowContext()
		defer cancel()
		if err := s.Titles.Delete(ctx, admin, host, slug, stream); err != nil {
			stream.Fail(err)
			return
		}
		stream.Done()
	})
}

// handleRepairTitle implements POST /titles/{slug}/repair: re-mediates the
// title's Catalog/Fleet side-objects and version order against stored
// state.
func (s *Server) handleRepairTitle(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	admin, host := requestAdminHost(r)

	s.runAsync(w, r, func(stream *progress.Stream) {
		ctx, cancel := newWorkflowContext()
		defer cancel()
		if _, err := s.Titles.Repair(ctx, admin, host, slug, stream); err != nil {
			stream.Fail(err)
			return
		}
		stream.Done()
	})
}

// handleFreeze implements POST /titles/{slug}/freeze.
func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	s.handleFreezeThaw(w, r, true)
}

// handleThaw implements POST /titles/{slug}/thaw.
func (s *Server) handleThaw(w http.ResponseWriter, r *http.Request) {
	s.handleFreezeThaw(w, r, false)
}

type freezeRequest struct {
	Principal string `json:"principal" validate:"required,max=256"`
}

func (s *Server) handleFreezeThaw(w http.ResponseWriter, r *http.Request, freeze bool) {
	slug := mux.Vars(r)["slug"]
	var in freezeRequest
	if err := decodeValid(r, &in); err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	admin, host := requestAdminHost(r)

	s.runAsync(w, r, func(stream *progress.Stream) {
		ctx, cancel := newWorkflowContext()
		defer cancel()
		var err error
		if freeze {
			_, err = s.Titles.Freeze(ctx, admin, host, slug, in.Principal, stream)
		} else {
			_, err = s.Titles.Thaw(ctx, admin, host, slug, in.Principal, stream)
		}
		if err != nil {
			stream.Fail(err)
			return
		}
		stream.Done()
	})
}
