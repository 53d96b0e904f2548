// Package blob stores uploaded document bytes on the local filesystem and issues
// time-limited signed read URLs for them.
package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultURLExpiry is the lifetime of a signed URL when none is given.
const DefaultURLExpiry = time.Hour

var (
	// ErrNotFound is returned when no object exists at the path.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidPath is returned for empty, absolute or escaping object paths.
	ErrInvalidPath = errors.New("invalid blob path")
	// ErrInvalidSignature is returned when a signed URL does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrExpired is returned when a signed URL is past its expiry.
	ErrExpired = errors.New("signed url expired")
)

// Store keeps objects under a root directory.
type Store struct {
	root    string
	key     []byte
	baseURL string
	now     func() time.Time
}

// NewStore creates the root directory if needed. baseURL prefixes signed URLs
// (e.g., "http://localhost:8080"); key signs them.
func NewStore(root string, key []byte, baseURL string) (*Store, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("signing key not set")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &Store{
		root:    root,
		key:     key,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		now:     time.Now,
	}, nil
}

// ObjectPath builds "<userID>/<uuid>.<ext>" for an uploaded file name.
func ObjectPath(userID, fileName string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	name := uuid.New().String()
	if ext != "" {
		name += "." + ext
	}
	return userID + "/" + name
}

func (s *Store) resolve(objectPath string) (string, error) {
	clean := path.Clean("/" + objectPath)
	if objectPath == "" || clean == "/" || strings.HasPrefix(objectPath, "/") || clean != "/"+objectPath {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean[1:])), nil
}

// Upload writes r to objectPath atomically and returns the byte count.
func (s *Store) Upload(ctx context.Context, objectPath string, r io.Reader) (int64, error) {
	full, err := s.resolve(objectPath)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return 0, fmt.Errorf("creating object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("writing object: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return 0, fmt.Errorf("committing object: %w", err)
	}
	return n, nil
}

// Download reads the whole object.
func (s *Store) Download(ctx context.Context, objectPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, objectPath)
		}
		return nil, fmt.Errorf("reading object: %w", err)
	}
	return data, nil
}

// Open returns a reader for the object. The caller closes it.
func (s *Store) Open(objectPath string) (*os.File, error) {
	full, err := s.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, objectPath)
		}
		return nil, fmt.Errorf("opening object: %w", err)
	}
	return f, nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (s *Store) Delete(ctx context.Context, objectPath string) error {
	full, err := s.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

func (s *Store) sign(objectPath string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(objectPath + "|" + strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedURL returns a read URL for objectPath valid for ttl (DefaultURLExpiry when 0).
func (s *Store) SignedURL(objectPath string, ttl time.Duration) (string, error) {
	if _, err := s.resolve(objectPath); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = DefaultURLExpiry
	}
	expires := s.now().Add(ttl).Unix()

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", s.sign(objectPath, expires))
	return s.baseURL + "/files/" + objectPath + "?" + q.Encode(), nil
}

// Verify checks the expires and signature query values of a signed URL.
func (s *Store) Verify(objectPath, expires, signature string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	want := s.sign(objectPath, exp)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrInvalidSignature
	}
	if s.now().Unix() > exp {
		return ErrExpired
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
