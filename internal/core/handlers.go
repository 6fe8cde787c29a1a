package core

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ossgate/internal/storage"
	"ossgate/internal/tree"
	"ossgate/internal/upload"
	"ossgate/pkg/pathutil"
)

// multipartOverhead is the slack allowed on top of the chunk size for the
// form fields and boundaries of a chunk request.
const multipartOverhead = 1 << 20

func (s *Server) handleChunkInit(w http.ResponseWriter, r *http.Request) {
	var req InitUploadRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}

	if req.Filename == "" {
		writeInvalidArgument(w, r, "filename is required")
		return
	}

	key := pathutil.Join(req.Path, req.Filename)
	uploadID, err := s.uploads.InitUpload(r.Context(), key)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, InitUploadResponse{UploadID: uploadID, Key: key})
}

// handleChunkUpload accepts one chunk sent as multipart/form-data with the
// fields guid, path, filename, chunkNumber and file.
func (s *Server) handleChunkUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxChunkSize+multipartOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "EntityTooLarge", "chunk exceeds the maximum allowed size", r.URL.Path, http.StatusRequestEntityTooLarge)
			return
		}
		writeInvalidArgument(w, r, "malformed multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	filename := r.FormValue("filename")
	if filename == "" {
		writeInvalidArgument(w, r, "filename is required")
		return
	}

	number, err := strconv.Atoi(r.FormValue("chunkNumber"))
	if err != nil {
		writeInvalidArgument(w, r, fmt.Sprintf("invalid chunkNumber %q", r.FormValue("chunkNumber")))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeInvalidArgument(w, r, "file is required")
		return
	}
	defer file.Close()

	if header.Size > s.cfg.MaxChunkSize {
		writeError(w, "EntityTooLarge", "chunk exceeds the maximum allowed size", r.URL.Path, http.StatusRequestEntityTooLarge)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeInternalError(w, r)
		return
	}

	result, err := s.uploads.AcceptChunk(r.Context(), upload.Chunk{
		CorrelationID: r.FormValue("guid"),
		ObjectKey:     pathutil.Join(r.FormValue("path"), filename),
		PartNumber:    number,
		Data:          data,
	})
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, result)
}

func (s *Server) handleChunkMerge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}

	var key string
	if req.Filename != "" {
		key = pathutil.Join(req.Path, req.Filename)
	}

	info, err := s.uploads.Merge(r.Context(), upload.MergeRequest{
		CorrelationID: req.GUID,
		ObjectKey:     key,
		UploadID:      req.UploadID,
		Parts:         req.Parts,
	})
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, info)
}

func (s *Server) handleChunkStatus(w http.ResponseWriter, r *http.Request, guid string) {
	sess, err := s.uploads.Status(r.Context(), guid)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, newSessionStatus(sess))
}

func (s *Server) handleChunkAbort(w http.ResponseWriter, r *http.Request, guid string) {
	if err := s.uploads.Abort(r.Context(), guid); err != nil {
		writeFailure(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleTree answers GET /oss/tree?prefix=a/b&sort=name with the folder
// tree rooted at prefix.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	prefix := pathutil.TrimSlash(pathutil.Normalize(query.Get("prefix")))

	objects, err := s.ops.ListRaw(r.Context(), prefix)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	root := tree.Build(prefix, objects, s.cfg.Locator.URL)

	switch query.Get("sort") {
	case "":
	case "name":
		tree.SortChildren(root)
	default:
		writeInvalidArgument(w, r, fmt.Sprintf("unsupported sort %q", query.Get("sort")))
		return
	}

	writeJSONResponse(w, http.StatusOK, root)
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	infos, err := s.ops.ListObjects(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, infos)
}

// handleObjectForm stores a file sent as multipart/form-data with the
// fields path and file, keeping the uploaded file name.
func (s *Server) handleObjectForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeInvalidArgument(w, r, "malformed multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeInvalidArgument(w, r, "file is required")
		return
	}
	defer file.Close()

	info, err := s.ops.PutObject(r.Context(), r.FormValue("path"), header.Filename, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, info)
}

func (s *Server) handleObjectPut(w http.ResponseWriter, r *http.Request, key string) {
	defer r.Body.Close()

	if key == "" {
		writeInvalidArgument(w, r, "object key is required")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "application/octet-stream" {
		contentType = ""
	}

	info, err := s.ops.PutObjectKey(r.Context(), key, r.Body, r.ContentLength, contentType)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, info)
}

func setObjectHeaders(w http.ResponseWriter, obj storage.Object) {
	h := w.Header()
	if obj.ContentType != "" {
		h.Set("Content-Type", obj.ContentType)
	}
	h.Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	if obj.ETag != "" {
		h.Set("ETag", obj.ETag)
	}
	if !obj.LastModified.IsZero() {
		h.Set("Last-Modified", obj.LastModified.UTC().Format(http.TimeFormat))
	}
	h.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{
		"filename": pathutil.Base(strings.TrimSuffix(obj.Key, "/")),
	}))
}

func (s *Server) handleObjectGet(w http.ResponseWriter, r *http.Request, key string) {
	rc, obj, err := s.ops.GetObject(r.Context(), key)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	defer rc.Close()

	setObjectHeaders(w, obj)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("Failed to stream object", "key", key, "err", err)
	}
}

func (s *Server) handleObjectHead(w http.ResponseWriter, r *http.Request, key string) {
	obj, err := s.ops.Head(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		slog.Error("Head object failed", "key", key, "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	setObjectHeaders(w, obj)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleObjectInfo(w http.ResponseWriter, r *http.Request, key string) {
	info, err := s.ops.Stat(r.Context(), key)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if info == nil {
		writeNoSuchKeyError(w, r)
		return
	}

	writeJSONResponse(w, http.StatusOK, info)
}

func (s *Server) handleObjectDelete(w http.ResponseWriter, r *http.Request, key string) {
	if err := s.ops.DeleteObject(r.Context(), key); err != nil {
		writeFailure(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFolderDelete(w http.ResponseWriter, r *http.Request, path string) {
	start := time.Now()
	n, err := s.ops.DeleteFolder(r.Context(), path)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	slog.Info("Deleted folder", "path", path, "objects", n, "elapsed", time.Since(start))
	writeJSONResponse(w, http.StatusOK, DeleteFolderResponse{Prefix: pathutil.Normalize(path), Deleted: n})
}
