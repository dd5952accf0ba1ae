package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"mediagate/internal/auth"
	"mediagate/internal/blob"
	"mediagate/internal/models"
	"mediagate/internal/observability/metrics"
	"mediagate/internal/storage"
)

type fakeStore struct {
	creds     map[string]models.Credential
	lookupErr error
}

func (f *fakeStore) LookupCredential(_ context.Context, identifier string) (models.Credential, error) {
	if f.lookupErr != nil {
		return models.Credential{}, f.lookupErr
	}
	cred, ok := f.creds[identifier]
	if !ok {
		return models.Credential{}, storage.ErrCredentialNotFound
	}
	return cred, nil
}

func (f *fakeStore) Close(context.Context) error {
	return nil
}

type storedBlob struct {
	data        []byte
	contentType string
}

type fakeBackend struct {
	objects map[string]storedBlob
	nextID  string
	putErr  error
	getErr  error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: make(map[string]storedBlob), nextID: "blob-1"}
}

func (f *fakeBackend) Put(_ context.Context, body io.Reader, _ int64, contentType string) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	id := f.nextID
	f.objects[id] = storedBlob{data: data, contentType: contentType}
	return id, nil
}

func (f *fakeBackend) Get(_ context.Context, key string) (io.ReadCloser, int64, error) {
	if f.getErr != nil {
		return nil, 0, f.getErr
	}
	obj, ok := f.objects[key]
	if !ok {
		return nil, 0, blob.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), int64(len(obj.data)), nil
}

type fakePublisher struct {
	jobs       []models.Job
	publishErr error
}

func (f *fakePublisher) Publish(_ context.Context, job models.Job) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

var errBackendDown = errors.New("backend down")

func newTestHandler() (*Handler, *fakeStore, *fakeBackend, *fakeBackend, *fakePublisher, *metrics.Recorder) {
	store := &fakeStore{creds: map[string]models.Credential{
		"alice@example.com": {Email: "alice@example.com", Password: "opensesame"},
	}}
	tokens := auth.NewTokenService([]byte("test-secret"), time.Hour)
	videos := newFakeBackend()
	tracks := newFakeBackend()
	jobs := &fakePublisher{}
	recorder := metrics.New()

	h := NewHandler(store, tokens)
	h.Videos = videos
	h.Tracks = tracks
	h.Jobs = jobs
	h.Metrics = recorder
	h.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return h, store, videos, tracks, jobs, recorder
}
