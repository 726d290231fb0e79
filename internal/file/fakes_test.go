package file

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var (
	pngPayload = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 64)...)
	pdfPayload = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")
	txtPayload = []byte("hello drop24\n")
	elfPayload = append([]byte("\x7fELF\x02\x01\x01\x00"), bytes.Repeat([]byte{0}, 64)...)
)

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStubClock() *stubClock {
	return &stubClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRecords struct {
	mu        sync.Mutex
	records   map[string]Record
	createErr error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: make(map[string]Record)}
}

func (f *fakeRecords) Create(ctx context.Context, rec Record) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return Record{}, f.createErr
	}
	rec.ID = uuid.NewString()
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeRecords) ListVisible(ctx context.Context, callerID string, page Page) ([]Record, error) {
	return f.filter(func(r Record) bool {
		return r.Visibility == VisibilityPublic || (callerID != "" && r.OwnerID == callerID)
	}), nil
}

func (f *fakeRecords) ListByOwner(ctx context.Context, ownerID string, page Page) ([]Record, error) {
	return f.filter(func(r Record) bool { return r.OwnerID == ownerID }), nil
}

func (f *fakeRecords) Get(ctx context.Context, id string) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (f *fakeRecords) UpdateVisibility(ctx context.Context, id, ownerID string, visibility Visibility) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok || rec.OwnerID != ownerID {
		return Record{}, ErrNotFound
	}
	rec.Visibility = visibility
	f.records[id] = rec
	return rec, nil
}

func (f *fakeRecords) Delete(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	delete(f.records, id)
	return rec, nil
}

func (f *fakeRecords) filter(keep func(Record) bool) []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Record, 0)
	for _, r := range f.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out
}

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	removeErr error
	removed   []string
	onRemove  func()
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Put(ctx context.Context, upload BlobUpload) (StoredBlob, error) {
	if f.putErr != nil {
		return StoredBlob{}, f.putErr
	}
	data, err := io.ReadAll(upload.Body)
	if err != nil {
		return StoredBlob{}, err
	}
	key := "drop24/" + string(upload.Kind) + "/" + uuid.NewString() + "/" + upload.NamingHint
	f.mu.Lock()
	f.objects[key] = data
	f.mu.Unlock()
	return StoredBlob{URL: "http://blobs.test/" + key, StorageID: key}, nil
}

func (f *fakeBlobs) Remove(ctx context.Context, storageID string) error {
	if f.onRemove != nil {
		f.onRemove()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, storageID)
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.objects, storageID)
	return nil
}

func (f *fakeBlobs) PresignGet(ctx context.Context, storageID, downloadName string, ttl time.Duration) (string, error) {
	if _, ok := f.objects[storageID]; !ok {
		return "", errors.New("no such object")
	}
	return "http://blobs.test/" + storageID + "?signed=1", nil
}

type serviceFixture struct {
	service *Service
	records *fakeRecords
	blobs   *fakeBlobs
	fs      afero.Fs
	clock   *stubClock
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	fx := &serviceFixture{
		records: newFakeRecords(),
		blobs:   newFakeBlobs(),
		fs:      afero.NewMemMapFs(),
		clock:   newStubClock(),
	}
	fx.service = NewService(fx.records, fx.blobs, NewStager(fx.fs, "/tmp"), Options{
		Policy: ContentPolicy{
			MaxSize: 1024,
			Allowed: []string{"image/", "application/pdf", "text/plain", "application/zip"},
		},
		Clock:  fx.clock,
		Logger: zap.NewNop(),
	})
	return fx
}

func (fx *serviceFixture) upload(t *testing.T, owner, name, visibility string, content []byte) Record {
	t.Helper()
	rec, err := fx.service.Upload(context.Background(), UploadInput{
		OwnerID:    owner,
		Visibility: visibility,
		File:       buildFileHeader(t, "file", name, content),
	})
	if err != nil {
		t.Fatalf("upload %s: %v", name, err)
	}
	fx.clock.Advance(time.Second)
	return rec
}

func (fx *serviceFixture) stagedFiles(t *testing.T) []string {
	t.Helper()
	var names []string
	infos, err := afero.ReadDir(fx.fs, "/tmp")
	if err != nil {
		return nil
	}
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names
}

func buildFileHeader(t *testing.T, fieldName, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fieldName, filename)
	if err != nil {
		t.Fatalf("CreateFormFile error: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if err := req.ParseMultipartForm(int64(len(content)) + 1024); err != nil {
		t.Fatalf("ParseMultipartForm: %v", err)
	}

	return req.MultipartForm.File[fieldName][0]
}
