package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/xolohq/xolo/internal/xoloerr"
)

// uploadMaxMemory bounds multipart parsing of icon/pkg uploads, which are
// staged under uploadsDir() before a title/version create or update
// workflow moves them into place. These
// handlers do only the minimal staging needed to hand an
// InstallerLocalPath / IconUploadID to internal/xolotitle and
// internal/xoloversion, which own every subsequent Catalog/Fleet step.
const uploadMaxMemory = 32 << 20 // 32 MiB held in memory before spilling to disk

// handleUploadIcon implements POST /uploads/icon: stages a self-service
// icon file and returns the upload-time identifier Title.icon_upload_id
// references.
func (s *Server) handleUploadIcon(w http.ResponseWriter, r *http.Request) {
	data, ext, err := readUploadFile(r, "icon")
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	uploadID := uuid.NewString()
	dir := s.uploadsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeWorkflowError(w, r, xoloerr.Wrap(xoloerr.Server, "create uploads dir", err))
		return
	}
	path := filepath.Join(dir, uploadID+"."+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		writeWorkflowError(w, r, xoloerr.Wrap(xoloerr.Server, "stage icon upload", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"icon_upload_id": uploadID})
}

// handleUploadPkg implements POST /uploads/pkg: stages an installer
// package file and returns the local path a subsequent version create
// request's installer_local_path field should reference.
func (s *Server) handleUploadPkg(w http.ResponseWriter, r *http.Request) {
	data, ext, err := readUploadFile(r, "pkg")
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	uploadID := uuid.NewString()
	dir := s.uploadsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeWorkflowError(w, r, xoloerr.Wrap(xoloerr.Server, "create uploads dir", err))
		return
	}
	path := filepath.Join(dir, uploadID+"."+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		writeWorkflowError(w, r, xoloerr.Wrap(xoloerr.Server, "stage package upload", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"installer_local_path": path})
}

func (s *Server) uploadsDir() string {
	return filepath.Join(filepath.Dir(strings.TrimSuffix(s.ProgressDir, "/")), "uploads")
}

// resolveUpload maps an upload-time identifier back to its staged file
// path, or "" if no staged file matches (already consumed or never
// uploaded).
func (s *Server) resolveUpload(uploadID string) string {
	if uploadID == "" || strings.ContainsAny(uploadID, "/\\.") {
		return ""
	}
	matches, err := filepath.Glob(filepath.Join(s.uploadsDir(), uploadID+".*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}

func readUploadFile(r *http.Request, field string) (data []byte, ext string, err error) {
	if mpErr := r.ParseMultipartForm(uploadMaxMemory); mpErr != nil {
		return nil, "", xoloerr.InvalidDataf("malformed multipart upload: %v", mpErr)
	}
	file, header, mpErr := r.FormFile(field)
	if mpErr != nil {
		return nil, "", xoloerr.InvalidDataf("missing %q form file: %v", field, mpErr)
	}
	defer file.Close()

	data, err = io.ReadAll(file)
	if err != nil {
		return nil, "", xoloerr.Wrap(xoloerr.Server, "read uploaded file", err)
	}
	ext = strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	if ext == "" {
		ext = "bin"
	}
	return data, ext, nil
}
