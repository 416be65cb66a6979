package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"crowdcounter/internal/config"
	"crowdcounter/internal/errs"
	"crowdcounter/internal/logger"

	"github.com/google/uuid"
)

const (
	// UploadPrefix starts every artifact derived from an uploaded file.
	UploadPrefix = "result_"
	// CapturePrefix starts every interactive capture.
	CapturePrefix = "area_video_frame_"

	partialPrefix   = ".partial_"
	maxBaseLength   = 64
	captureTimeFmt  = "20060102_150405"
	defaultBaseName = "upload"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Store owns the results directory and the upload staging directory.
// Only complete artifacts are ever visible under their final name.
type Store struct {
	resultsDir string
	uploadDir  string
	seq        atomic.Uint64
	now        func() time.Time
	logger     *logger.Logger
}

// NewStore creates the results and upload directories once and returns a Store.
func NewStore(config *config.Config, logger *logger.Logger) (*Store, error) {
	return newStore(config.ResultsDirectory, config.UploadDirectory, logger)
}

func newStore(resultsDir, uploadDir string, logger *logger.Logger) (*Store, error) {
	for _, dir := range []string{resultsDir, uploadDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errs.IO("create directory "+dir, err)
		}
	}
	return &Store{
		resultsDir: resultsDir,
		uploadDir:  uploadDir,
		now:        time.Now,
		logger:     logger,
	}, nil
}

// ResultsDir returns the directory artifacts are served from.
func (s *Store) ResultsDir() string {
	return s.resultsDir
}

// Sanitize reduces a client supplied filename to a safe base name without extension.
func Sanitize(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_.")
	if len(base) > maxBaseLength {
		base = base[:maxBaseLength]
	}
	if base == "" {
		return defaultBaseName
	}
	return base
}

// UploadName builds result_<base>_<uuid8><ext> for an artifact derived from source.
func (s *Store) UploadName(source, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s%s_%s%s", UploadPrefix, Sanitize(source), uuid.NewString()[:8], ext)
}

// CaptureName builds area_video_frame_<YYYYmmdd_HHMMSS>_<nanos>_<seq>.jpg.
// The sequence keeps names unique when two captures share a nanosecond.
func (s *Store) CaptureName() string {
	now := s.now()
	return fmt.Sprintf("%s%s_%09d_%d.jpg", CapturePrefix, now.Format(captureTimeFmt), now.Nanosecond(), s.seq.Add(1))
}

// WriteArtifact stores data under name in the results directory through a temp file.
func (s *Store) WriteArtifact(name string, data []byte) (string, error) {
	pending, err := s.Reserve(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(pending.TempPath, data, 0644); err != nil {
		pending.Discard()
		return "", errs.IO("write artifact "+name, err)
	}
	return pending.Commit()
}

// Reserve hands out a temp path for an artifact that is produced incrementally,
// like an encoded video. The temp path keeps the final extension so encoders
// can pick the container from it.
func (s *Store) Reserve(name string) (*Pending, error) {
	final, err := s.resolve(s.resultsDir, name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(final); err == nil {
		return nil, errs.IO("reserve "+name, os.ErrExist)
	}
	temp := filepath.Join(s.resultsDir, partialPrefix+uuid.NewString()[:8]+"_"+name)
	return &Pending{TempPath: temp, FinalPath: final, logger: s.logger}, nil
}

// Open returns the path of a stored artifact. Names that escape the results
// directory or point at in-progress files are rejected.
func (s *Store) Open(name string) (string, error) {
	if strings.HasPrefix(name, partialPrefix) {
		return "", errs.NotFound("artifact %q", name)
	}
	path, err := s.resolve(s.resultsDir, name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", errs.NotFound("artifact %q", name)
	}
	return path, nil
}

// Remove deletes a stored artifact. Missing files are not an error.
func (s *Store) Remove(name string) error {
	path, err := s.resolve(s.resultsDir, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.IO("remove artifact "+name, err)
	}
	return nil
}

// SaveUpload copies an uploaded stream into the staging directory under a
// unique name and returns its path. The caller removes it with RemoveUpload.
func (s *Store) SaveUpload(src io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	path := filepath.Join(s.uploadDir, uuid.NewString()+"_"+Sanitize(filename)+ext)

	dst, err := os.Create(path)
	if err != nil {
		return "", errs.IO("create upload", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", errs.IO("write upload", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", errs.IO("close upload", err)
	}
	return path, nil
}

// RemoveUpload deletes a staged upload.
func (s *Store) RemoveUpload(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) && s.logger != nil {
		s.logger.Warning("Failed to remove upload %s: %v", path, err)
	}
}

func (s *Store) resolve(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", errs.Validation("invalid artifact name %q", name)
	}
	return filepath.Join(dir, name), nil
}

// Pending is a reserved artifact that is not yet visible.
type Pending struct {
	TempPath  string
	FinalPath string
	done      bool
	logger    *logger.Logger
}

// Name returns the final artifact name.
func (p *Pending) Name() string {
	return filepath.Base(p.FinalPath)
}

// Commit publishes the artifact under its final name.
func (p *Pending) Commit() (string, error) {
	if p.done {
		return "", errs.IO("commit "+p.Name(), os.ErrClosed)
	}
	p.done = true
	if err := os.Rename(p.TempPath, p.FinalPath); err != nil {
		os.Remove(p.TempPath)
		return "", errs.IO("commit "+p.Name(), err)
	}
	return p.FinalPath, nil
}

// Discard removes the temp file. Safe to call after Commit.
func (p *Pending) Discard() {
	if p.done {
		return
	}
	p.done = true
	if err := os.Remove(p.TempPath); err != nil && !os.IsNotExist(err) && p.logger != nil {
		p.logger.Warning("Failed to remove partial artifact %s: %v", p.TempPath, err)
	}
}
