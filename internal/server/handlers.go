package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"

	"github.com/codekarta/filedock/internal/auth"
	"github.com/codekarta/filedock/internal/events"
	"github.com/codekarta/filedock/internal/metrics"
	"github.com/codekarta/filedock/internal/vfs"
	"github.com/codekarta/filedock/pkg/models"
	"github.com/codekarta/filedock/pkg/protocol"
)

func pageParams(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if pageSize == 0 {
		// pageSize is accepted as an alias for limit.
		pageSize, _ = strconv.Atoi(r.URL.Query().Get("pageSize"))
	}
	return page, pageSize
}

// ─── Listing ────────────────────────────────────────────────────────────────

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	tenantID, err := s.tenantFor(r, claims)
	if err != nil {
		s.sendError(w, http.StatusForbidden, err.Error())
		return
	}
	dirPath := r.URL.Query().Get("path")
	if dirPath == "" {
		dirPath = "/"
	}
	page, pageSize := pageParams(r)
	showHidden := r.URL.Query().Get("showHidden") == "true"

	entries, pg, err := s.ops.List(r.Context(), tenantID, dirPath, page, pageSize, showHidden)
	if err != nil {
		s.handleError(w, err)
		return
	}
	if entries == nil {
		entries = []models.FileEntry{}
	}
	s.sendJSON(w, http.StatusOK, protocol.ListResponse{Entries: entries, Pagination: pg})
}

// ─── Search ─────────────────────────────────────────────────────────────────

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	q := r.URL.Query().Get("q")
	if q == "" {
		s.sendError(w, http.StatusBadRequest, "q required")
		return
	}
	scope := r.URL.Query().Get("searchPath")
	if scope == "" {
		scope = r.URL.Query().Get("path")
	}
	opts := vfs.SearchOptions{
		Query:      q,
		Regex:      r.URL.Query().Get("regex") == "true",
		ShowHidden: r.URL.Query().Get("showHidden") == "true",
		SearchPath: scope,
	}
	page, pageSize := pageParams(r)

	if r.URL.Query().Get("tenantId") == "all" {
		if !claims.IsSuperadmin() {
			s.sendError(w, http.StatusForbidden, "cross-tenant search requires superadmin")
			return
		}
		results, pg, err := s.ops.SearchAll(r.Context(), opts, page, pageSize)
		if err != nil {
			s.handleError(w, err)
			return
		}
		if results == nil {
			results = []models.FileEntry{}
		}
		s.sendJSON(w, http.StatusOK, protocol.SearchResponse{Results: results, Pagination: pg})
		return
	}

	tenantID, err := s.tenantFor(r, claims)
	if err != nil {
		s.sendError(w, http.StatusForbidden, err.Error())
		return
	}
	results, err := s.ops.Search(r.Context(), tenantID, opts)
	if err != nil {
		s.handleError(w, err)
		return
	}
	paged, pg := vfs.Paginate(results, page, pageSize)
	if paged == nil {
		paged = []models.FileEntry{}
	}
	s.sendJSON(w, http.StatusOK, protocol.SearchResponse{Results: paged, Pagination: pg})
}

// ─── Download ───────────────────────────────────────────────────────────────

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	claims := s.auth.TryClaims(r)
	p := r.URL.Query().Get("path")
	if p == "" {
		s.sendError(w, http.StatusBadRequest, "path required")
		return
	}

	// Cross-tenant search results carry a "tenantID:/path" form; plain
	// paths fall back to the query parameter or the caller's tenant.
	tenantID, logical := vfs.SplitTenantPath(p)
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenantId")
	}
	if tenantID == "" && claims != nil {
		tenantID = claims.TenantID
	}
	if tenantID == "" {
		s.sendError(w, http.StatusBadRequest, "tenantId required")
		return
	}
	// Cross-tenant downloads go through the gate below; the entry must
	// be public for them to succeed.
	rc, entry, err := s.ops.Open(r.Context(), tenantID, logical)
	if err != nil {
		metrics.RecordContentDownload(0, false)
		s.handleError(w, err)
		return
	}
	defer rc.Close()

	if !s.gate.Authorize(claims, entry) {
		metrics.RecordContentDownload(0, false)
		if claims == nil {
			s.sendError(w, http.StatusUnauthorized, "authentication required")
		} else {
			s.sendError(w, http.StatusForbidden, "access denied")
		}
		return
	}

	ctype := mime.TypeByExtension(path.Ext(entry.Name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Length", strconv.FormatInt(entry.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry.Name))

	n, err := io.Copy(w, rc)
	metrics.RecordContentDownload(n, err == nil)
}

// ─── Upload ─────────────────────────────────────────────────────────────────

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	tenantID, err := s.tenantFor(r, claims)
	if err != nil {
		s.sendError(w, http.StatusForbidden, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.sendError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload too large: max %d bytes", s.maxUploadSize))
		return
	}
	defer r.MultipartForm.RemoveAll()

	basePath := r.FormValue("basePath")
	if basePath == "" {
		basePath = r.FormValue("path")
	}
	if basePath == "" {
		basePath = "/"
	}
	level := models.AccessLevel(r.FormValue("mediaAccessLevel"))

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.sendError(w, http.StatusBadRequest, "no files in request")
		return
	}

	// Folder uploads carry each file's path in a parallel relativePaths
	// field, since multipart filenames are stripped to their base name.
	relPaths := r.MultipartForm.Value["relativePaths"]
	if len(relPaths) == 0 {
		relPaths = r.MultipartForm.Value["relativePath"]
	}

	files := make([]vfs.UploadFile, 0, len(headers))
	for i, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "read upload part: "+err.Error())
			return
		}
		rel := fh.Filename
		if i < len(relPaths) && relPaths[i] != "" {
			rel = relPaths[i]
		}
		files = append(files, vfs.UploadFile{
			Name:         path.Base(rel),
			RelativePath: rel,
			Data:         data,
		})
	}

	result, err := s.ops.Upload(r.Context(), tenantID, basePath, files, level)
	if err != nil {
		s.handleError(w, err)
		return
	}
	for _, e := range result.Uploaded {
		s.publishEvent(events.EventCreate, tenantID, e.Path, "", e.Size)
	}

	resp := protocol.UploadResponse{
		Uploaded:    result.Uploaded,
		Failures:    result.Failures,
		DirsCreated: result.DirsCreated,
	}
	if resp.Uploaded == nil {
		resp.Uploaded = []models.FileEntry{}
	}
	if resp.Failures == nil {
		resp.Failures = []protocol.UploadFailure{}
	}
	// Partial failure is still 200; callers inspect the failures list.
	s.sendJSON(w, http.StatusOK, resp)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// ─── Mutations ──────────────────────────────────────────────────────────────

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	tenantID, err := s.tenantFor(r, claims)
	if err != nil {
		s.sendError(w, http.StatusForbidden, err.Error())
		return
	}
	var req protocol.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := s.ops.CreateFolder(r.Context(), tenantID, req.Path, req.Name)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.publishEvent(events.EventCreate, tenantID, entry.Path, "", 0)
	s.sendJSON(w, http.StatusCreated, protocol.EntryResponse{Entry: entry})
}

func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	tenantID, err := s.tenantFor(r, claims)
	if err != nil {
		s.sendError(w, http.StatusForbidden, err.Error())
		return
	}
	var req protocol.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := s.ops.CreateFile(r.Context(), tenantID, req.Path, req.Name, []byte(req.Content), req.AccessLevel)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.publishEvent(events.EventCreate, tenantID, entry.Path, "", entry.Size)
	s.sendJSON(w, http.StatusCreated, protocol.EntryResponse{Entry: entry})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	tenantID, err := s.tenantFor(r, claims)
	if err != nil {
		s.sendError(w, http.StatusForbidden, err.Error())
		return
	}
	var req protocol.RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := s.ops.Rename(r.Context(), tenantID, req.Path, req.NewName)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.publishEvent(events.EventRename, tenantID, vfs.CleanLogical(req.Path), entry.Path, entry.Size)
	s.sendJSON(w, http.StatusOK, protocol.EntryResponse{Entry: entry})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	tenantID, err := s.tenantFor(r, claims)
	if err != nil {
		s.sendError(w, http.StatusForbidden, err.Error())
		return
	}
	var req protocol.MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := s.ops.Move(r.Context(), tenantID, req.Path, req.Destination)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.publishEvent(events.EventRename, tenantID, vfs.CleanLogical(req.Path), entry.Path, entry.Size)
	s.sendJSON(w, http.StatusOK, protocol.EntryResponse{Entry: entry})
}

func (s *Server) handleDuplicate(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	tenantID, err := s.tenantFor(r, claims)
	if err != nil {
		s.sendError(w, http.StatusForbidden, err.Error())
		return
	}
	var req protocol.DuplicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := s.ops.Duplicate(r.Context(), tenantID, req.Path)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.publishEvent(events.EventCreate, tenantID, entry.Path, "", entry.Size)
	s.sendJSON(w, http.StatusCreated, protocol.EntryResponse{Entry: entry})
}

func (s *Server) handleSetAccessLevel(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	tenantID, err := s.tenantFor(r, claims)
	if err != nil {
		s.sendError(w, http.StatusForbidden, err.Error())
		return
	}
	var req protocol.AccessLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := s.ops.SetAccessLevel(r.Context(), tenantID, req.Path, req.AccessLevel)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.publishEvent(events.EventModify, tenantID, entry.Path, "", entry.Size)
	s.sendJSON(w, http.StatusOK, protocol.EntryResponse{Entry: entry})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	tenantID, err := s.tenantFor(r, claims)
	if err != nil {
		s.sendError(w, http.StatusForbidden, err.Error())
		return
	}
	p := r.URL.Query().Get("path")
	if p == "" {
		s.sendError(w, http.StatusBadRequest, "path required")
		return
	}
	if err := s.ops.Delete(r.Context(), tenantID, p); err != nil {
		s.handleError(w, err)
		return
	}
	logical := vfs.CleanLogical(p)
	s.publishEvent(events.EventDelete, tenantID, logical, "", 0)
	s.sendJSON(w, http.StatusOK, protocol.DeleteResponse{Path: logical, Deleted: true})
}
