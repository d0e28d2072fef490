// Package upload implements a resumable chunked upload manager: a
// client reserves an upload id and a deterministic store filename up
// front, streams chunks to a temp file addressed by byte offset, then
// completion atomically promotes the temp file into the session's
// media directory.
package upload

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sxm1129/FireRed-OpenStoryline/internal/media"
)

var (
	// ErrNotFound is returned when an upload id is unknown or has been
	// reaped by the TTL sweep.
	ErrNotFound = errors.New("upload: not found or expired")
	// ErrClosed is returned when a chunk arrives for an upload that has
	// already been completed or cancelled.
	ErrClosed = errors.New("upload: already closed")
	// ErrChunkMismatch is returned when a chunk's byte count does not
	// match the expected length for its index.
	ErrChunkMismatch = errors.New("upload: chunk size mismatch")
	// ErrIncomplete is returned by Complete when not all chunks have
	// been received.
	ErrIncomplete = errors.New("upload: chunks missing")
)

const mediaSeqWidth = 4

var mediaSeqRe = regexp.MustCompile(`(?i)^media_(\d+)`)

// Resumable tracks one in-flight resumable upload.
type Resumable struct {
	UploadID        string
	DisplayFilename string
	StoreFilename   string
	Size            int64
	ChunkSize       int64
	TotalChunks     int
	TmpPath         string
	Kind            media.Kind
	CreatedAt       time.Time
	LastActivityAt  time.Time

	mu       sync.Mutex
	received map[int]bool
	closed   bool
}

// InitResult is returned by Manager.Init.
type InitResult struct {
	UploadID    string
	ChunkSize   int64
	TotalChunks int
	Filename    string
}

// Manager owns one session's in-flight resumable uploads plus the
// monotonic media_NNNN store-filename sequence for that session.
type Manager struct {
	mediaDir  string
	uploadDir string
	chunkSize int64
	ttl       time.Duration

	mu             sync.Mutex
	uploads        map[string]*Resumable
	seqNext        int
	seqInited      bool
	now            func() time.Time
	newUploadID    func() string
	reservedExtras int // reserved via direct (non-resumable) multi-file uploads, tracked by caller
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for deterministic TTL tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides upload id minting, for deterministic tests.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newUploadID = gen }
}

// NewManager constructs a Manager rooted at mediaDir, using
// <mediaDir>/.uploads for temp files.
func NewManager(mediaDir string, chunkSize int64, ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{
		mediaDir:    mediaDir,
		uploadDir:   media.UploadsDir(mediaDir),
		chunkSize:   chunkSize,
		ttl:         ttl,
		uploads:     make(map[string]*Resumable),
		now:         time.Now,
		newUploadID: func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CleanupStaleLocked reaps uploads whose last activity exceeds the
// TTL, removing their temp files. Callers hold the session-level media
// lock around this, matching _cleanup_stale_uploads_locked.
func (m *Manager) CleanupStaleLocked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, u := range m.uploads {
		if now.Sub(u.LastActivityAt) > m.ttl {
			delete(m.uploads, id)
			if u.TmpPath != "" {
				os.Remove(u.TmpPath)
			}
		}
	}
}

// Len reports the number of in-flight resumable uploads plus any
// direct (non-resumable) multi-file uploads reserved but not yet
// committed, used by session media-cap accounting.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads) + m.reservedExtras
}

// ReserveExtras reserves n additional in-flight slots for a direct
// (non-resumable) multi-file upload that has already passed
// Session.CheckCaps, closing the check-then-act race a multi-file
// request would otherwise leave open between the cap check and the
// files actually being written.
func (m *Manager) ReserveExtras(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservedExtras += n
}

// ReleaseExtras releases n previously reserved slots once the direct
// upload they were reserved for has been committed or has failed.
func (m *Manager) ReleaseExtras(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservedExtras -= n
	if m.reservedExtras < 0 {
		m.reservedExtras = 0
	}
}

// Init reserves a store filename and temp file for a new resumable
// upload, returning the chunking contract the client must follow.
func (m *Manager) Init(filename string, size int64) (InitResult, error) {
	if size <= 0 {
		return InitResult{}, fmt.Errorf("upload: invalid size %d", size)
	}
	filename = sanitizeFilename(filename)

	m.mu.Lock()
	defer m.mu.Unlock()

	storeFilename, err := m.reserveStoreFilenamesLocked([]string{filename})
	if err != nil {
		return InitResult{}, err
	}

	uploadID := m.newUploadID()
	chunkSize := m.chunkSize
	if chunkSize <= 0 {
		chunkSize = 1
	}
	totalChunks := int(math.Ceil(float64(size) / float64(chunkSize)))

	if err := os.MkdirAll(m.uploadDir, 0o755); err != nil {
		return InitResult{}, fmt.Errorf("upload: mkdir %s: %w", m.uploadDir, err)
	}
	tmpPath := filepath.Join(m.uploadDir, uploadID+".part")
	f, err := os.Create(tmpPath)
	if err != nil {
		return InitResult{}, fmt.Errorf("upload: create temp file %s: %w", tmpPath, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return InitResult{}, fmt.Errorf("upload: truncate %s: %w", tmpPath, err)
	}
	f.Close()

	now := m.now()
	u := &Resumable{
		UploadID:        uploadID,
		DisplayFilename: filename,
		StoreFilename:   storeFilename[0],
		Size:            size,
		ChunkSize:       chunkSize,
		TotalChunks:     totalChunks,
		TmpPath:         tmpPath,
		Kind:            media.DetectKindByExt(filename),
		CreatedAt:       now,
		LastActivityAt:  now,
		received:        make(map[int]bool),
	}
	m.uploads[uploadID] = u

	return InitResult{
		UploadID:    uploadID,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		Filename:    filename,
	}, nil
}

func (m *Manager) get(uploadID string) (*Resumable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[uploadID]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

// Chunk writes one chunk at its byte offset into the upload's temp
// file, enforcing the exact expected length for that index (the final
// chunk is allowed to be shorter).
func (m *Manager) Chunk(uploadID string, index int, body io.Reader) (receivedChunks, totalChunks int, err error) {
	u, err := m.get(uploadID)
	if err != nil {
		return 0, 0, err
	}
	if index < 0 || index >= u.TotalChunks {
		return 0, 0, fmt.Errorf("upload: invalid chunk index %d", index)
	}
	expected := u.Size - int64(index)*u.ChunkSize
	if expected <= 0 {
		return 0, 0, fmt.Errorf("upload: invalid chunk index %d", index)
	}
	if expected > u.ChunkSize {
		expected = u.ChunkSize
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return 0, 0, ErrClosed
	}

	f, err := os.OpenFile(u.TmpPath, os.O_WRONLY, 0o644)
	if err != nil {
		return 0, 0, fmt.Errorf("upload: open %s: %w", u.TmpPath, err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(index)*u.ChunkSize, io.SeekStart); err != nil {
		return 0, 0, fmt.Errorf("upload: seek %s: %w", u.TmpPath, err)
	}
	written, err := io.Copy(f, io.LimitReader(body, expected+1))
	if err != nil {
		return 0, 0, fmt.Errorf("upload: write %s: %w", u.TmpPath, err)
	}
	if written > expected {
		return 0, 0, fmt.Errorf("upload: chunk too large: got more than %d bytes", expected)
	}
	if written != expected {
		return 0, 0, ErrChunkMismatch
	}

	u.received[index] = true
	u.LastActivityAt = m.now()
	return len(u.received), u.TotalChunks, nil
}

// CompletedUpload is the caller-facing view of a finished upload,
// ready for media.Store.SaveFromPath.
type CompletedUpload struct {
	TmpPath         string
	StoreFilename   string
	DisplayFilename string
	Kind            media.Kind
}

// Complete marks an upload closed and, if every chunk has arrived,
// removes it from the in-flight table and returns its temp file for
// promotion by the caller.
func (m *Manager) Complete(uploadID string) (CompletedUpload, error) {
	u, err := m.get(uploadID)
	if err != nil {
		return CompletedUpload{}, err
	}

	u.mu.Lock()
	u.closed = true
	missing := u.TotalChunks - len(u.received)
	u.mu.Unlock()
	if missing > 0 {
		return CompletedUpload{}, fmt.Errorf("%w: %d", ErrIncomplete, missing)
	}

	m.mu.Lock()
	delete(m.uploads, uploadID)
	m.mu.Unlock()

	return CompletedUpload{
		TmpPath:         u.TmpPath,
		StoreFilename:   u.StoreFilename,
		DisplayFilename: u.DisplayFilename,
		Kind:            u.Kind,
	}, nil
}

// Cancel removes an upload from the in-flight table (if present) and
// deletes its temp file. Cancelling an unknown upload is a no-op, to
// match idempotent client retry semantics.
func (m *Manager) Cancel(uploadID string) error {
	m.mu.Lock()
	u, ok := m.uploads[uploadID]
	if ok {
		delete(m.uploads, uploadID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()

	if u.TmpPath != "" {
		if err := os.Remove(u.TmpPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("upload: remove %s: %w", u.TmpPath, err)
		}
	}
	return nil
}

// ReserveStoreFilenames mints deterministic media_NNNN.ext store
// filenames in the given order, advancing the session-wide sequence
// counter past any number already present on disk, in memory, or
// in-flight — so clearing history never reuses an old filename.
func (m *Manager) ReserveStoreFilenames(displayFilenames []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserveStoreFilenamesLocked(displayFilenames)
}

func (m *Manager) reserveStoreFilenamesLocked(displayFilenames []string) ([]string, error) {
	if err := m.initSeqLocked(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(displayFilenames))
	seq := m.seqNext
	for _, disp := range displayFilenames {
		disp = sanitizeFilename(disp)
		ext := filepath.Ext(disp)

		var store string
		for {
			store = makeStoreFilename(seq, ext)
			if _, err := os.Stat(filepath.Join(m.mediaDir, store)); os.IsNotExist(err) {
				break
			}
			seq++
		}
		out = append(out, store)
		seq++
	}
	m.seqNext = seq
	return out, nil
}

func (m *Manager) initSeqLocked() error {
	if m.seqInited {
		return nil
	}
	maxSeq := 0

	entries, err := os.ReadDir(m.mediaDir)
	if err == nil {
		for _, e := range entries {
			if s, ok := parseSeq(e.Name()); ok && s > maxSeq {
				maxSeq = s
			}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("upload: readdir %s: %w", m.mediaDir, err)
	}

	for _, u := range m.uploads {
		if s, ok := parseSeq(u.StoreFilename); ok && s > maxSeq {
			maxSeq = s
		}
	}

	m.seqNext = maxSeq + 1
	m.seqInited = true
	return nil
}

func makeStoreFilename(seq int, ext string) string {
	ext = lowerExt(ext)
	format := fmt.Sprintf("media_%%0%dd%%s", mediaSeqWidth)
	return fmt.Sprintf(format, seq, ext)
}

func lowerExt(ext string) string {
	out := make([]byte, len(ext))
	for i := 0; i < len(ext); i++ {
		c := ext[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func parseSeq(filename string) (int, bool) {
	m := mediaSeqRe.FindStringSubmatch(filepath.Base(filename))
	if m == nil {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(m[1], "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	clean := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == 0 {
			continue
		}
		clean = append(clean, name[i])
	}
	if len(clean) == 0 {
		return "unnamed"
	}
	return string(clean)
}

// sortedUploadIDs is a small helper kept for deterministic iteration in
// tests and diagnostics.
func (m *Manager) sortedUploadIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.uploads))
	for id := range m.uploads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
