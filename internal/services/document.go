package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/medreq/apiserver/internal/storage"
	"github.com/medreq/apiserver/internal/store"
)

const (
	// MaxDocumentsPerUpload caps the number of files in one upload.
	MaxDocumentsPerUpload = 5

	defaultMaxDocumentBytes = 10 << 20
	maxDocumentNameLen      = 100
	referenceTimeLayout     = "20060102150405"
)

var (
	referencePattern   = regexp.MustCompile(`^\d{20}_[A-Za-z0-9._-]+$`)
	unsafeNameChars    = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	acceptedMediaTypes = []string{"application/pdf", "image/jpeg", "image/png"}
)

// ObjectStore is the byte store documents are written to.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, meta storage.ObjectMeta) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Upload is one file received from a client.
type Upload struct {
	Name string
	Data []byte
}

// DocumentStager stores uploaded documents and hands out references.
// Objects are keyed by uploader, so a reference only resolves for the
// user who staged it.
type DocumentStager struct {
	store    ObjectStore
	maxBytes int64
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

func NewDocumentStager(store ObjectStore, maxBytes int64) *DocumentStager {
	if maxBytes <= 0 {
		maxBytes = defaultMaxDocumentBytes
	}
	return &DocumentStager{
		store:    store,
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

// Stage validates and stores one document for ownerID and returns its
// reference.
func (d *DocumentStager) Stage(ctx context.Context, ownerID int, data []byte, originalName string) (string, error) {
	if len(data) == 0 {
		return "", ErrUploadEmpty
	}
	if int64(len(data)) > d.maxBytes {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrDocumentTooLarge, originalName, d.maxBytes)
	}

	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), acceptedMediaTypes...) {
		return "", fmt.Errorf("%w: %s is %s", ErrUnsupportedDocumentType, originalName, mtype.String())
	}

	ref := d.reference(originalName)
	meta := storage.ObjectMeta{
		ContentType: mtype.String(),
		Filename:    SanitizeFilename(originalName),
		Owner:       strconv.Itoa(ownerID),
	}
	if err := d.store.Put(ctx, objectKey(ownerID, ref), bytes.NewReader(data), int64(len(data)), meta); err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}
	return ref, nil
}

// StageAll stages every upload in order. Nothing is rolled back when a
// later file fails; already staged files stay orphaned.
func (d *DocumentStager) StageAll(ctx context.Context, ownerID int, uploads []Upload) ([]string, error) {
	if len(uploads) == 0 {
		return nil, ErrUploadEmpty
	}
	if len(uploads) > MaxDocumentsPerUpload {
		return nil, fmt.Errorf("%w: at most %d files per upload", ErrTooManyDocuments, MaxDocumentsPerUpload)
	}

	refs := make([]string, 0, len(uploads))
	for _, upload := range uploads {
		ref, err := d.Stage(ctx, ownerID, upload.Data, upload.Name)
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Owns reports whether ref was staged by ownerID.
func (d *DocumentStager) Owns(ctx context.Context, ownerID int, ref string) (bool, error) {
	if !ValidReference(ref) {
		return false, nil
	}
	return d.store.Exists(ctx, objectKey(ownerID, ref))
}

// Open returns the stored bytes of a reference staged by ownerID.
func (d *DocumentStager) Open(ctx context.Context, ownerID int, ref string) (io.ReadCloser, error) {
	if !ValidReference(ref) {
		return nil, ErrInvalidDocumentReference
	}
	rc, err := d.store.Get(ctx, objectKey(ownerID, ref))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, store.ErrNotFound
	}
	return rc, err
}

// Discard removes documents ownerID staged that will never be
// submitted. Failures are logged; the files stay orphaned.
func (d *DocumentStager) Discard(ctx context.Context, ownerID int, refs ...string) {
	for _, ref := range refs {
		if !ValidReference(ref) {
			continue
		}
		if err := d.store.Delete(ctx, objectKey(ownerID, ref)); err != nil {
			slog.WarnContext(ctx, "failed to discard staged document", "reference", ref, "owner_id", ownerID, "error", err)
		}
	}
}

// objectKey is the storage key of ref under its uploader.
func objectKey(ownerID int, ref string) string {
	return strconv.Itoa(ownerID) + "-" + ref
}

// reference builds "<UTC timestamp with microseconds>_<name>". The
// timestamp is strictly increasing within the process.
func (d *DocumentStager) reference(originalName string) string {
	d.mu.Lock()
	now := d.now().UTC().Truncate(time.Microsecond)
	if !now.After(d.last) {
		now = d.last.Add(time.Microsecond)
	}
	d.last = now
	d.mu.Unlock()

	return fmt.Sprintf("%s%06d_%s", now.Format(referenceTimeLayout), now.Nanosecond()/1000, SanitizeFilename(originalName))
}

// SanitizeFilename reduces a client-supplied name to a safe base name.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if len(name) > maxDocumentNameLen {
		ext := path.Ext(name)
		if len(ext) > 10 {
			ext = ""
		}
		name = name[:maxDocumentNameLen-len(ext)] + ext
	}
	if name == "" {
		return "document"
	}
	return name
}

// ValidReference reports whether ref has the shape produced by the
// stager.
func ValidReference(ref string) bool {
	return referencePattern.MatchString(ref)
}

// Staging is the working list of references uploaded for a submission
// that has not been sent yet.
type Staging struct {
	refs []string
}

// NewStaging returns a staging list holding refs.
func NewStaging(refs ...string) *Staging {
	s := &Staging{}
	s.Add(refs...)
	return s
}

// Add appends references, skipping empty strings.
func (s *Staging) Add(refs ...string) {
	for _, ref := range refs {
		if ref = strings.TrimSpace(ref); ref != "" {
			s.refs = append(s.refs, ref)
		}
	}
}

// References returns a copy of the staged references.
func (s *Staging) References() []string {
	if s == nil {
		return []string{}
	}
	out := make([]string, len(s.refs))
	copy(out, s.refs)
	return out
}

func (s *Staging) Len() int {
	if s == nil {
		return 0
	}
	return len(s.refs)
}

// Reset empties the list.
func (s *Staging) Reset() {
	if s != nil {
		s.refs = nil
	}
}
