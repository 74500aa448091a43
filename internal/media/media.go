// Package media stores uploaded files on local disk and serves them back
// under /uploads.
package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PaulBabatuyi/pairchat/internal/apperr"
	"github.com/google/uuid"
)

// PathPrefix is the URL path uploaded files are served under.
const PathPrefix = "/uploads/"

var allowed = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
	"video/ogg":  ".ogv",
	"audio/mpeg": ".mp3",
	"audio/mp3":  ".mp3",
	"audio/wav":  ".wav",
	"audio/ogg":  ".ogg",
	"audio/webm": ".weba",
}

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".ogv":  "video/ogg",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".weba": "audio/webm",
}

// Allowed reports whether mimeType may be uploaded.
func Allowed(mimeType string) bool {
	_, ok := allowed[strings.ToLower(mimeType)]
	return ok
}

// ContentType infers a content type from a file name's extension.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// File describes a stored upload.
type File struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimetype"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// Store keeps uploads in a single flat directory.
type Store struct {
	dir      string
	baseURL  string
	maxBytes int64
	now      func() time.Time
}

// NewStore creates dir if needed. baseURL prefixes public URLs.
func NewStore(dir, baseURL string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
		now:      time.Now,
	}, nil
}

// MaxBytes is the per-file size limit.
func (s *Store) MaxBytes() int64 { return s.maxBytes }

// PublicURL is the absolute URL a stored file is served at.
func (s *Store) PublicURL(filename string) string {
	return s.baseURL + PathPrefix + filename
}

// Save validates and writes one multipart file, returning its public
// description. The stored name is "<unix-ms>-<uuid><ext>".
func (s *Store) Save(fh *multipart.FileHeader) (*File, error) {
	if fh == nil {
		return nil, apperr.Validation("no file received")
	}
	mimeType := strings.ToLower(fh.Header.Get("Content-Type"))
	if !Allowed(mimeType) {
		return nil, apperr.Validationf("file type %q is not allowed", mimeType)
	}
	if fh.Size > s.maxBytes {
		return nil, apperr.Validationf("file exceeds %d bytes", s.maxBytes)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, apperr.Validation("unreadable file")
	}
	defer src.Close()

	name := fmt.Sprintf("%d-%s%s", s.now().UnixMilli(), uuid.NewString(), extension(fh.Filename, mimeType))
	path := filepath.Join(s.dir, name)

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, apperr.Internal("store upload", err)
	}
	n, err := io.Copy(dst, io.LimitReader(src, s.maxBytes+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, apperr.Internal("store upload", err)
	}
	if n > s.maxBytes {
		_ = os.Remove(path)
		return nil, apperr.Validationf("file exceeds %d bytes", s.maxBytes)
	}

	return &File{Filename: name, MimeType: mimeType, Size: n, URL: s.PublicURL(name)}, nil
}

func extension(original, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if _, ok := contentTypes[ext]; ok {
		return ext
	}
	return allowed[mimeType]
}

// Remove deletes a stored file. A missing file is not an error.
func (s *Store) Remove(filename string) error {
	if !validName(filename) {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, filename))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

// Serve writes the named file with a content type inferred from its
// extension and long-lived cache headers.
func (s *Store) Serve(w http.ResponseWriter, r *http.Request, filename string) error {
	if !validName(filename) {
		return apperr.Validation("invalid filename")
	}
	path := filepath.Join(s.dir, filename)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.NotFound("file not found")
		}
		return apperr.Internal("stat upload", err)
	}
	if info.IsDir() {
		return apperr.NotFound("file not found")
	}

	f, err := os.Open(path)
	if err != nil {
		return apperr.Internal("open upload", err)
	}
	defer f.Close()

	w.Header().Set("Content-Type", ContentType(filename))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, filename, info.ModTime(), f)
	return nil
}
