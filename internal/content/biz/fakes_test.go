package biz

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lk2023060901/bookshelf-backend/internal/content/types"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/logger"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/workerpool"
)

// memRepo is an in-memory UploadRepo whose transactions restore a snapshot on error
type memRepo struct {
	mu      sync.Mutex
	uploads map[string]types.ContentUpload
	images  map[string][]types.UploadedImage
	books   map[string]bool

	failCreate error
	locked     []string
}

func newMemRepo() *memRepo {
	return &memRepo{
		uploads: make(map[string]types.ContentUpload),
		images:  make(map[string][]types.UploadedImage),
		books:   make(map[string]bool),
	}
}

func (r *memRepo) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	uploads := make(map[string]types.ContentUpload, len(r.uploads))
	for k, v := range r.uploads {
		uploads[k] = v
	}
	images := make(map[string][]types.UploadedImage, len(r.images))
	for k, v := range r.images {
		images[k] = append([]types.UploadedImage(nil), v...)
	}
	r.mu.Unlock()

	if err := fn(ctx); err != nil {
		r.mu.Lock()
		r.uploads, r.images = uploads, images
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memRepo) Exists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.books[id], nil
}

func (r *memRepo) Create(_ context.Context, upload *types.ContentUpload, images []*types.UploadedImage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate != nil {
		return r.failCreate
	}
	r.uploads[upload.ID] = *upload
	for _, img := range images {
		r.images[upload.ID] = append(r.images[upload.ID], *img)
	}
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*types.ContentUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uploads[id]
	if !ok {
		return nil, ErrUploadNotFound
	}
	return &u, nil
}

func (r *memRepo) GetForUpdate(ctx context.Context, id string) (*types.ContentUpload, error) {
	r.mu.Lock()
	r.locked = append(r.locked, id)
	r.mu.Unlock()
	return r.GetByID(ctx, id)
}

func (r *memRepo) ListImages(_ context.Context, uploadID string) ([]*types.UploadedImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.UploadedImage, 0, len(r.images[uploadID]))
	for i := range r.images[uploadID] {
		img := r.images[uploadID][i]
		out = append(out, &img)
	}
	return out, nil
}

func (r *memRepo) ListByBook(_ context.Context, bookID string, page types.Page) ([]*types.ContentUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.ContentUpload
	for _, u := range r.uploads {
		if u.BookID != nil && *u.BookID == bookID {
			u := u
			out = append(out, &u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	size := page.Size
	if size <= 0 {
		size = 20
	}
	start := max(page.Number-1, 0) * size
	if start >= len(out) {
		return nil, nil
	}
	return out[start:min(start+size, len(out))], nil
}

func (r *memRepo) ReplaceContent(_ context.Context, upload *types.ContentUpload, images []*types.UploadedImage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.uploads[upload.ID]; !ok {
		return ErrUploadNotFound
	}
	r.uploads[upload.ID] = *upload
	r.images[upload.ID] = nil
	for _, img := range images {
		r.images[upload.ID] = append(r.images[upload.ID], *img)
	}
	return nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.uploads[id]; !ok {
		return ErrUploadNotFound
	}
	delete(r.uploads, id)
	delete(r.images, id)
	return nil
}

func (r *memRepo) rowCounts() (uploads, images int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, imgs := range r.images {
		images += len(imgs)
	}
	return len(r.uploads), images
}

// memStore is an AssetUploader keeping objects in memory
type memStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	deleted  []string
	attempts map[string]int

	// fail reports whether the attempt-th upload of key should fail
	fail  func(key string, attempt int) bool
	delay time.Duration
}

const cdnBase = "https://cdn.example.test/"

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte), attempts: make(map[string]int)}
}

func (s *memStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[key]++
	if s.fail != nil && s.fail(key, s.attempts[key]) {
		return "", errors.New("connection reset by peer")
	}
	if contentType == "" {
		return "", errors.New("missing content type")
	}
	s.objects[key] = data
	return cdnBase + key, nil
}

func (s *memStore) Delete(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.TrimPrefix(url, cdnBase)
	delete(s.objects, key)
	s.deleted = append(s.deleted, url)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// recorder is a metrics.Observer that keeps what it saw
type recorder struct {
	mu       sync.Mutex
	runs     []string
	stages   map[string]int
	uploads  map[string]int
	warnings map[string]int
}

func newRecorder() *recorder {
	return &recorder{stages: map[string]int{}, uploads: map[string]int{}, warnings: map[string]int{}}
}

func (r *recorder) ObserveRun(format, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, format+"/"+outcome)
}

func (r *recorder) ObserveStage(stage string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[stage]++
}

func (r *recorder) ObserveAssetUpload(outcome string, _ int64, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads[outcome]++
}

func (r *recorder) ObserveWarning(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings[code]++
}

type testEnv struct {
	uc    *IngestUseCase
	repo  *memRepo
	store *memStore
	obs   *recorder
}

func newTestEnv(t *testing.T, tweak ...func(*IngestOptions)) *testEnv {
	t.Helper()
	pool, err := workerpool.New(&workerpool.Config{Workers: 8}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	opts := DefaultIngestOptions()
	opts.RetryInitialInterval = time.Millisecond
	for _, fn := range tweak {
		fn(&opts)
	}

	env := &testEnv{repo: newMemRepo(), store: newMemStore(), obs: newRecorder()}
	env.uc = NewIngestUseCase(env.repo, env.repo, env.repo, env.store, pool, env.obs, logger.NewNop(), opts)
	return env
}
