package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
)

const maxFileNameLen = 64

// ValidFileName enforces the workspace file policy: markdown or JSON only,
// no path traversal, bounded length.
func ValidFileName(name string) bool {
	if name == "" || len(name) > maxFileNameLen {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return strings.HasSuffix(name, ".md") || strings.HasSuffix(name, ".json")
}

// workspaceDir resolves the instance's workspace, or writes a 404 and
// returns false. Membership in the store is what makes an instance: a
// workspace directory left behind by destroy is not served.
func (s *Server) workspaceDir(w http.ResponseWriter, id string) (string, bool) {
	view, err := s.store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store read failed")
		return "", false
	}
	if _, ok := view.Get(id); !ok {
		writeError(w, http.StatusNotFound, "instance not found")
		return "", false
	}

	dir := s.files.WorkspaceDir(id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		writeError(w, http.StatusNotFound, "instance not found")
		return "", false
	}
	return dir, true
}

func (s *Server) handleFilesList(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.workspaceDir(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "workspace unreadable")
		return
	}

	files := []string{}
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ".md") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleFileGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !ValidFileName(name) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	dir, ok := s.workspaceDir(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, map[string]any{
				"content": "", "filename": name, "exists": false,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "file unreadable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"content": string(data), "filename": name, "exists": true,
	})
}

func (s *Server) handleFilePut(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !ValidFileName(name) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	dir, ok := s.workspaceDir(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Edits only: a PUT may never create a file, so tenants cannot grow the
	// workspace through the operator API.
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusForbidden, "create via PUT is forbidden")
		return
	}

	if err := os.WriteFile(path, []byte(body.Content), 0o600); err != nil {
		writeError(w, http.StatusInternalServerError, "write failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
