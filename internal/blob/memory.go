package blob

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	folder  string
	objects map[string]*memObject
}

type memObject struct {
	body         []byte
	contentType  string
	etag         string
	lastModified time.Time
	meta         map[string]string
}

// NewMemoryStore creates an empty in-memory store pinned to folder.
func NewMemoryStore(folder string) *MemoryStore {
	return &MemoryStore{
		folder:  folder,
		objects: make(map[string]*memObject),
	}
}

// Put stores a complete object in one call; convenience for seeding tests.
func (m *MemoryStore) Put(key string, body []byte, contentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := md5.Sum(body)
	m.objects[joinFolder(m.folder, key)] = &memObject{
		body:         append([]byte(nil), body...),
		contentType:  contentType,
		etag:         hex.EncodeToString(sum[:]),
		lastModified: time.Now().UTC(),
		meta:         map[string]string{},
	}
}

func (m *MemoryStore) OpenRead(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[joinFolder(m.folder, key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
	}
	return io.NopCloser(bytes.NewReader(obj.body)), nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[joinFolder(m.folder, key)]
	return ok, nil
}

func (m *MemoryStore) GetMetadata(ctx context.Context, key string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[joinFolder(m.folder, key)]
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotExist, key)
	}
	meta := make(map[string]string, len(obj.meta))
	for k, v := range obj.meta {
		meta[k] = v
	}
	return Object{
		Key:           key,
		ContentLength: int64(len(obj.body)),
		ETag:          obj.etag,
		LastModified:  obj.lastModified,
		UserMetadata:  meta,
	}, nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	full := joinFolder(m.folder, prefix)
	var objs []Object
	for k, obj := range m.objects {
		if !strings.HasPrefix(k, full) {
			continue
		}
		objs = append(objs, Object{
			Key:           stripFolder(m.folder, k),
			ContentLength: int64(len(obj.body)),
			ETag:          obj.etag,
			LastModified:  obj.lastModified,
		})
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
	return objs, nil
}

func (m *MemoryStore) OpenWrite(ctx context.Context, key string, contentType string) (io.WriteCloser, error) {
	return &memWriter{store: m, key: key, contentType: contentType}, nil
}

type memWriter struct {
	store       *MemoryStore
	key         string
	contentType string
	buf         bytes.Buffer
	closed      bool
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

// Abort discards the buffered body without publishing the object.
func (w *memWriter) Abort(err error) { w.closed = true }

func (w *memWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.store.Put(w.key, w.buf.Bytes(), w.contentType)
	return nil
}

func (m *MemoryStore) SetMetadata(ctx context.Context, key string, meta map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[joinFolder(m.folder, key)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotExist, key)
	}
	obj.meta = make(map[string]string, len(meta))
	for k, v := range meta {
		obj.meta[k] = v
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, joinFolder(m.folder, key))
	return nil
}

// StaticFactory maps logical sources to fixed store instances. The external
// source is handed out read-only.
type StaticFactory struct {
	External Reader
	Internal Store
}

func (f *StaticFactory) Reader(ctx context.Context, src Source) (Reader, error) {
	switch src {
	case SourceExternal:
		return f.External, nil
	case SourceInternal:
		return f.Internal, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, src)
	}
}

func (f *StaticFactory) Store(ctx context.Context, src Source) (Store, error) {
	switch src {
	case SourceInternal:
		return f.Internal, nil
	case SourceExternal:
		return nil, fmt.Errorf("%w: %q", ErrReadOnly, src)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, src)
	}
}
