// package blob abstracts the object stores the engine reads encrypted
// snapshots from and writes decrypted snapshots to.
package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// Object describes one stored object as seen by callers. Keys are always
// relative to the store's top-level folder.
type Object struct {
	Key           string
	ContentLength int64
	ETag          string
	LastModified  time.Time
	UserMetadata  map[string]string
}

// User-metadata keys stamped on acquired objects.
const (
	MetaSourceEncryptedLength = "source_encrypted_length"
	MetaSourceETag            = "source_etag"
)

// ErrNotExist is returned when a requested object cannot be located.
var ErrNotExist = errors.New("blob: object does not exist")

// Reader is the read-only capability set. Dataset catalogues and other
// consumers that never mutate the store depend on this interface.
type Reader interface {
	// OpenRead returns a stream over the object body.
	OpenRead(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// GetMetadata returns the object descriptor without reading the body.
	GetMetadata(ctx context.Context, key string) (Object, error)

	// List enumerates objects under the given key prefix.
	List(ctx context.Context, prefix string) ([]Object, error)
}

// Store adds the write capability set on top of Reader.
type Store interface {
	Reader

	// OpenWrite returns a writable stream; the object becomes visible once
	// the stream is closed without error.
	OpenWrite(ctx context.Context, key string, contentType string) (io.WriteCloser, error)

	// SetMetadata replaces the object's user metadata.
	SetMetadata(ctx context.Context, key string, meta map[string]string) error

	// Delete removes the object.
	Delete(ctx context.Context, key string) error
}

// Aborter is optionally implemented by write streams that can discard a
// partial upload instead of finalizing it.
type Aborter interface {
	Abort(err error)
}

// AbortWrite discards a partial write when the stream supports it, closing
// it otherwise.
func AbortWrite(w io.WriteCloser, err error) {
	if a, ok := w.(Aborter); ok {
		a.Abort(err)
		return
	}
	_ = w.Close()
}

// Source names a logical store the factory can open.
type Source string

const (
	// SourceExternal is the read-only drop folder of encrypted snapshots.
	SourceExternal Source = "external"
	// SourceInternal is the read-write store of decrypted snapshots.
	SourceInternal Source = "internal"
)

// ErrUnknownSource is returned by factories for an unrecognized Source.
var ErrUnknownSource = errors.New("blob: unknown source")

// ErrReadOnly is returned when write access is requested on a read-only source.
var ErrReadOnly = errors.New("blob: source is read-only")

// Factory hands out store instances keyed by logical source.
type Factory interface {
	Reader(ctx context.Context, src Source) (Reader, error)
	Store(ctx context.Context, src Source) (Store, error)
}

// NormalizeETag strips surrounding quotes and lowercases an etag so values
// from different stores compare equal.
func NormalizeETag(etag string) string {
	return strings.ToLower(strings.Trim(etag, `"`))
}

// joinFolder prepends the store's top-level folder to a caller-relative key.
func joinFolder(folder, key string) string {
	if folder == "" {
		return key
	}
	return strings.TrimSuffix(folder, "/") + "/" + strings.TrimPrefix(key, "/")
}

// stripFolder converts an absolute key back to the caller-relative form.
func stripFolder(folder, key string) string {
	if folder == "" {
		return key
	}
	return strings.TrimPrefix(key, strings.TrimSuffix(folder, "/")+"/")
}
