package services

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/medreq/apiserver/internal/storage"
	"github.com/medreq/apiserver/internal/store"
	"github.com/medreq/apiserver/types"
)

// fakeUserRepo enforces the same uniqueness rules as the users table,
// atomically with the insert.
type fakeUserRepo struct {
	mu     sync.Mutex
	nextID int
	users  map[int]types.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int]types.User)}
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrDuplicateEmail
		}
		if user.Role == types.RoleManager && existing.Role == types.RoleManager {
			return types.User{}, store.ErrManagerExists
		}
	}
	r.nextID++
	user.ID = r.nextID
	user.CreatedAt = time.Now().UTC()
	r.users[user.ID] = user
	return user, nil
}

func (r *fakeUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

func (r *fakeUserRepo) managers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, user := range r.users {
		if user.Role == types.RoleManager {
			n++
		}
	}
	return n
}

type fakeRequestRepo struct {
	mu       sync.Mutex
	nextID   int
	requests map[int]types.MedicalRequest
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{requests: make(map[int]types.MedicalRequest)}
}

func (r *fakeRequestRepo) Create(ctx context.Context, req types.MedicalRequest) (types.MedicalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	req.ID = r.nextID
	req.UpdatedAt = req.CreatedAt
	r.requests[req.ID] = req
	return req, nil
}

func (r *fakeRequestRepo) Get(ctx context.Context, id int) (types.MedicalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return types.MedicalRequest{}, store.ErrNotFound
	}
	return req, nil
}

func (r *fakeRequestRepo) List(ctx context.Context, userID, offset, limit int) ([]types.MedicalRequest, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []types.MedicalRequest
	for _, req := range r.requests {
		if userID == 0 || req.UserID == userID {
			all = append(all, req)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *fakeRequestRepo) UpdateStatus(ctx context.Context, id int, from, to types.RequestStatus) (types.MedicalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return types.MedicalRequest{}, store.ErrNotFound
	}
	if req.Status != from {
		return types.MedicalRequest{}, store.ErrStatusConflict
	}
	req.Status = to
	req.UpdatedAt = time.Now().UTC()
	r.requests[id] = req
	return req, nil
}

func (r *fakeRequestRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type memObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]storage.ObjectMeta
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string][]byte), meta: make(map[string]storage.ObjectMeta)}
}

func (m *memObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, meta storage.ObjectMeta) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.meta[key] = meta
	return nil
}

func (m *memObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	return m.has(key), nil
}

func (m *memObjectStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.meta, key)
	return nil
}

func (m *memObjectStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *memObjectStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.RequestEvent
	err    error
}

func (p *recordingPublisher) PublishRequestEvent(ctx context.Context, event types.RequestEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

var (
	pdfBytes  = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n")
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
)
