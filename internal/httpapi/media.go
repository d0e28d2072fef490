package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sxm1129/FireRed-OpenStoryline/internal/apperr"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/media"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/ratelimit"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/session"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/upload"
)

const thumbMaxDim = 320

// sniffLen is how many leading bytes are buffered for signature-based
// kind detection when a filename's extension is missing or untrusted.
const sniffLen = 64

// writeCapacityExceeded reports a 429 for the global concurrency caps
// (distinct from the per-rule token buckets), with a short fixed
// retry hint since the ceiling is expected to free up quickly.
func writeCapacityExceeded(w http.ResponseWriter) {
	writeRateLimited(w, ratelimit.Decision{Allowed: false, RetryAfter: time.Second})
}

func (s *Server) sessionAndCaps(w http.ResponseWriter, r *http.Request, addMedia int) (*session.Session, bool) {
	sess, err := s.sessions.GetOrError(chi.URLParam(r, "sid"))
	if err != nil {
		s.writeError(w, apperr.NotFound("%v", err))
		return nil, false
	}
	caps := session.MediaCaps{MaxMediaPerSession: s.cfg.MaxMediaPerSession, MaxPendingMediaPerSession: s.cfg.MaxPendingMediaPerSession}
	inFlight := sess.Uploads.Len()
	if err := sess.CheckCaps(caps, addMedia, inFlight); err != nil {
		s.writeError(w, apperr.Validation("%v", err))
		return nil, false
	}
	return sess, true
}

// handleUploadMedia accepts a direct multipart upload of one or more
// files (non-resumable path).
func (s *Server) handleUploadMedia(w http.ResponseWriter, r *http.Request) {
	if !s.admitCost(w, r, "upload_media", ratelimit.UploadCost(r.ContentLength, s.cfg.UploadCostBytes)) {
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, apperr.Validation("malformed multipart body: %v", err))
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		s.writeError(w, apperr.Validation("no files provided"))
		return
	}
	if s.cfg.MaxUploadFilesPerRequest > 0 && len(files) > s.cfg.MaxUploadFilesPerRequest {
		s.writeError(w, apperr.Validation("too many files in one request: %d > %d", len(files), s.cfg.MaxUploadFilesPerRequest))
		return
	}

	// Rate-limited by the real file count, not a fixed cost of 1 per
	// request.
	if !s.admitMediaCount(w, r, float64(len(files))) {
		return
	}

	sess, ok := s.sessionAndCaps(w, r, len(files))
	if !ok {
		return
	}

	if !ratelimit.TryAcquire(s.caps.Uploads) {
		writeCapacityExceeded(w)
		return
	}
	defer ratelimit.Release(s.caps.Uploads)

	// Reserve the slots this request's files will occupy so a second
	// concurrent multi-file upload against the same session can't slip
	// past CheckCaps before this one's files are actually registered.
	sess.Uploads.ReserveExtras(len(files))
	defer sess.Uploads.ReleaseExtras(len(files))

	displayNames := make([]string, len(files))
	for i, fh := range files {
		displayNames[i] = fh.Filename
	}
	storeNames, err := sess.Uploads.ReserveStoreFilenames(displayNames)
	if err != nil {
		s.writeError(w, apperr.Internal(err, "reserve store filenames"))
		return
	}

	created := make([]mediaDTO, 0, len(files))
	for i, fh := range files {
		meta, err := s.ingestMultipartFile(r.Context(), sess, fh, storeNames[i])
		if err != nil {
			s.writeError(w, err)
			return
		}
		created = append(created, toMediaDTO(sess.ID, meta))
	}
	writeJSON(w, http.StatusOK, created)
}

func (s *Server) ingestMultipartFile(ctx context.Context, sess *session.Session, fh *multipart.FileHeader, storeName string) (session.MediaMeta, error) {
	f, err := fh.Open()
	if err != nil {
		return session.MediaMeta{}, apperr.Internal(err, "open uploaded file %s", fh.Filename)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	kind := detectKind(fh.Filename, head)
	if kind == media.KindUnknown {
		return session.MediaMeta{}, apperr.Validation("unsupported file type: %s", fh.Filename)
	}

	path, err := s.mediaStore.SaveUpload(sess.MediaDir, storeName, io.MultiReader(bytes.NewReader(head), f))
	if err != nil {
		return session.MediaMeta{}, mapMediaStoreErr(err, storeName)
	}

	return s.finalizeMedia(ctx, sess, fh.Filename, path, kind)
}

// finalizeMedia mints a media id, generates a thumbnail (best-effort),
// and registers the item as pending.
func (s *Server) finalizeMedia(ctx context.Context, sess *session.Session, displayName, path string, kind media.Kind) (session.MediaMeta, error) {
	mediaID := uuid.NewString()
	thumbPath := media.ThumbPath(sess.MediaDir, mediaID)
	if err := s.generateThumbnail(ctx, path, thumbPath, kind); err != nil {
		s.log.Warn("thumbnail generation failed", "media_id", mediaID, "path", path, "err", err)
		thumbPath = ""
	}

	meta := session.MediaMeta{
		ID:        mediaID,
		Name:      displayName,
		Kind:      kind,
		Path:      path,
		ThumbPath: thumbPath,
		CreatedAt: time.Now(),
	}
	sess.AddMedia(meta)
	return meta, nil
}

func (s *Server) generateThumbnail(ctx context.Context, srcPath, thumbPath string, kind media.Kind) error {
	switch kind {
	case media.KindImage:
		return media.MakeImageThumbnail(srcPath, thumbPath, thumbMaxDim, thumbMaxDim)
	case media.KindVideo:
		if s.frameExtract == nil {
			return fmt.Errorf("httpapi: no frame extractor configured")
		}
		if err := os.MkdirAll(filepath.Dir(thumbPath), 0o755); err != nil {
			return err
		}
		return s.frameExtract.ExtractFrame(ctx, srcPath, thumbPath, s.cfg.ThumbnailTimeout)
	default:
		return fmt.Errorf("httpapi: no thumbnail strategy for kind %q", kind)
	}
}

func mapMediaStoreErr(err error, storeName string) error {
	if err == media.ErrAlreadyExists {
		return apperr.Conflict("store filename %q already exists", storeName)
	}
	return apperr.Internal(err, "save upload %s", storeName)
}

type initUploadRequest struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

func (s *Server) handleInitUpload(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "upload_media") {
		return
	}

	var req initUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.Validation("malformed request body: %v", err))
		return
	}
	if req.Size <= 0 {
		s.writeError(w, apperr.Validation("size must be positive"))
		return
	}

	// A resumable init always reserves exactly one future media item.
	if !s.admitMediaCount(w, r, 1) {
		return
	}

	sess, ok := s.sessionAndCaps(w, r, 1)
	if !ok {
		return
	}

	res, err := sess.Uploads.Init(req.Filename, req.Size)
	if err != nil {
		s.writeError(w, apperr.Validation("%v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"upload_id":    res.UploadID,
		"chunk_size":   res.ChunkSize,
		"total_chunks": res.TotalChunks,
		"filename":     res.Filename,
	})
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "upload_media") {
		return
	}
	sess, err := s.sessions.GetOrError(chi.URLParam(r, "sid"))
	if err != nil {
		s.writeError(w, apperr.NotFound("%v", err))
		return
	}
	if err := r.ParseMultipartForm(s.cfg.ResumableChunkBytes + (1 << 20)); err != nil {
		s.writeError(w, apperr.Validation("malformed multipart body: %v", err))
		return
	}
	index, err := strconv.Atoi(r.FormValue("index"))
	if err != nil {
		s.writeError(w, apperr.Validation("invalid chunk index"))
		return
	}
	file, _, err := r.FormFile("chunk")
	if err != nil {
		s.writeError(w, apperr.Validation("missing chunk body: %v", err))
		return
	}
	defer file.Close()

	if !ratelimit.TryAcquire(s.caps.Uploads) {
		writeCapacityExceeded(w)
		return
	}
	defer ratelimit.Release(s.caps.Uploads)

	received, total, err := sess.Uploads.Chunk(chi.URLParam(r, "uid"), index, file)
	if err != nil {
		s.writeError(w, mapUploadErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"received_chunks": received, "total_chunks": total})
}

func (s *Server) handleCompleteUpload(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "upload_media") {
		return
	}
	sess, err := s.sessions.GetOrError(chi.URLParam(r, "sid"))
	if err != nil {
		s.writeError(w, apperr.NotFound("%v", err))
		return
	}

	if !ratelimit.TryAcquire(s.caps.Uploads) {
		writeCapacityExceeded(w)
		return
	}
	defer ratelimit.Release(s.caps.Uploads)

	completed, err := sess.Uploads.Complete(chi.URLParam(r, "uid"))
	if err != nil {
		s.writeError(w, mapUploadErr(err))
		return
	}

	path, err := s.mediaStore.SaveFromPath(completed.TmpPath, sess.MediaDir, completed.StoreFilename)
	if err != nil {
		s.writeError(w, mapMediaStoreErr(err, completed.StoreFilename))
		return
	}

	kind := completed.Kind
	if kind == media.KindUnknown {
		kind = detectKindFromFile(path)
	}
	meta, err := s.finalizeMedia(r.Context(), sess, completed.DisplayFilename, path, kind)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMediaDTO(sess.ID, meta))
}

func (s *Server) handleCancelUpload(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "upload_media") {
		return
	}
	sess, err := s.sessions.GetOrError(chi.URLParam(r, "sid"))
	if err != nil {
		s.writeError(w, apperr.NotFound("%v", err))
		return
	}
	if err := sess.Uploads.Cancel(chi.URLParam(r, "uid")); err != nil {
		s.writeError(w, apperr.Internal(err, "cancel upload"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (s *Server) handleListPendingMedia(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "media_get") {
		return
	}
	sess, err := s.sessions.GetOrError(chi.URLParam(r, "sid"))
	if err != nil {
		s.writeError(w, apperr.NotFound("%v", err))
		return
	}
	pending := sess.PendingMedia()
	out := make([]mediaDTO, 0, len(pending))
	for _, m := range pending {
		out = append(out, toMediaDTO(sess.ID, m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeletePendingMedia(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "api_general") {
		return
	}
	sess, err := s.sessions.GetOrError(chi.URLParam(r, "sid"))
	if err != nil {
		s.writeError(w, apperr.NotFound("%v", err))
		return
	}
	if err := sess.DeletePendingMedia(chi.URLParam(r, "mid")); err != nil {
		s.writeError(w, apperr.Validation("%v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleMediaThumb(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "media_get") {
		return
	}
	sess, err := s.sessions.GetOrError(chi.URLParam(r, "sid"))
	if err != nil {
		s.writeError(w, apperr.NotFound("%v", err))
		return
	}
	meta, ok := sess.GetMedia(chi.URLParam(r, "mid"))
	if !ok {
		s.writeError(w, apperr.NotFound("media %q not found", chi.URLParam(r, "mid")))
		return
	}

	if meta.ThumbPath == "" || !media.IsUnderDir(sess.MediaDir, meta.ThumbPath) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(media.VideoPlaceholderSVG)
		return
	}
	if _, err := os.Stat(meta.ThumbPath); err != nil {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(media.VideoPlaceholderSVG)
		return
	}
	http.ServeFile(w, r, meta.ThumbPath)
}

func (s *Server) handleMediaFile(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "media_get") {
		return
	}
	sess, err := s.sessions.GetOrError(chi.URLParam(r, "sid"))
	if err != nil {
		s.writeError(w, apperr.NotFound("%v", err))
		return
	}
	meta, ok := sess.GetMedia(chi.URLParam(r, "mid"))
	if !ok {
		s.writeError(w, apperr.NotFound("media %q not found", chi.URLParam(r, "mid")))
		return
	}
	if !media.IsUnderDir(sess.MediaDir, meta.Path) {
		s.writeError(w, apperr.Forbidden("path escapes session media directory"))
		return
	}
	http.ServeFile(w, r, meta.Path)
}

func mapUploadErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, upload.ErrNotFound):
		return apperr.NotFound("%v", err)
	default:
		return apperr.Validation("%v", err)
	}
}

func detectKindFromFile(path string) media.Kind {
	if k := media.DetectKindByExt(path); k != media.KindUnknown {
		return k
	}
	f, err := os.Open(path)
	if err != nil {
		return media.KindUnknown
	}
	defer f.Close()
	head := make([]byte, sniffLen)
	n, _ := io.ReadFull(f, head)
	return media.DetectKindBySignature(head[:n])
}
