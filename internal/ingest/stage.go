package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MaxPayloadBytes caps a single staged payload.
const MaxPayloadBytes = 50 * 1024 * 1024

var ErrPayloadTooLarge = errors.New("payload exceeds size limit")

var unsafeNameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Stager writes inbound media payloads into a scoped local directory and hands
// back the file path used as the message's PayloadRef.
type Stager struct {
	root     string
	maxBytes int64
	client   *http.Client
}

// NewStager creates the staging root if needed.
func NewStager(root string, client *http.Client) (*Stager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create staging dir %s", root)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Stager{root: root, maxBytes: MaxPayloadBytes, client: client}, nil
}

// Root returns the staging directory.
func (s *Stager) Root() string { return s.root }

// Stage copies r into a new file named after filename. Names are prefixed
// with a random id so payloads from different senders never collide.
func (s *Stager) Stage(filename string, r io.Reader) (string, error) {
	path := filepath.Join(s.root, uuid.NewString()+"_"+sanitizeName(filename))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", errors.Wrap(err, "failed to create staged file")
	}

	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	switch {
	case err != nil:
		_ = os.Remove(path)
		return "", errors.Wrap(err, "failed to write staged file")
	case n > s.maxBytes:
		_ = os.Remove(path)
		return "", errors.Wrapf(ErrPayloadTooLarge, "%s", filename)
	case n == 0:
		_ = os.Remove(path)
		return "", errors.Errorf("empty payload %s", filename)
	case closeErr != nil:
		_ = os.Remove(path)
		return "", errors.Wrap(closeErr, "failed to close staged file")
	}
	return path, nil
}

// StageURL downloads url and stages the body under filename.
func (s *Stager) StageURL(ctx context.Context, url, filename string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to build download request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "download failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	return s.Stage(filename, resp.Body)
}

// Discard removes a staged payload. Paths outside the staging root are refused.
func (s *Stager) Discard(ref string) error {
	if ref == "" {
		return nil
	}
	rel, err := filepath.Rel(s.root, ref)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return errors.Errorf("refusing to remove %s outside staging root", ref)
	}
	if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", ref)
	}
	return nil
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	safe := strings.Trim(unsafeNameRe.ReplaceAllString(name, "_"), "._")
	if safe == "" {
		safe = "payload"
	}
	if len(safe) > 100 {
		safe = safe[len(safe)-100:]
	}
	return safe
}
