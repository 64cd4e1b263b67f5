package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/prepbolt/apiserver/config"
	"github.com/prepbolt/apiserver/types"
)

type memoryObjects struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	metadata     map[string]map[string]string
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{
		objects:      map[string][]byte{},
		contentTypes: map[string]string{},
		metadata:     map[string]map[string]string{},
	}
}

func (m *memoryObjects) EnsureBucket(context.Context) error { return nil }

func (m *memoryObjects) Put(_ context.Context, obj Object) error {
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[obj.Key] = data
	m.contentTypes[obj.Key] = obj.ContentType
	m.metadata[obj.Key] = obj.Metadata
	return nil
}

func (m *memoryObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryObjects) Bucket() string { return "test" }

func TestLeaderboardArchive(t *testing.T) {
	objects := newMemoryObjects()
	archive := NewLeaderboardArchive(NewStorage(objects))
	ctx := context.Background()

	if _, ok, err := archive.Load(ctx, 3); err != nil || ok {
		t.Fatalf("expected no archived board, ok=%v err=%v", ok, err)
	}

	board := types.Leaderboard{
		ChallengeID: 3,
		Status:      types.StatusCompleted,
		Final:       true,
		Version:     12,
		Entries:     []types.LeaderboardEntry{{Rank: 1, UserID: 2, Score: 95}},
	}
	if err := archive.Archive(ctx, board); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if objects.contentTypes["leaderboards/3.json"] != "application/json" {
		t.Fatalf("expected JSON object at leaderboards/3.json, got %v", objects.contentTypes)
	}
	if md := objects.metadata["leaderboards/3.json"]; md["challenge-id"] != "3" || md["version"] != "12" {
		t.Fatalf("unexpected metadata %v", md)
	}

	loaded, ok, err := archive.Load(ctx, 3)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if !loaded.Final || loaded.Status != types.StatusCompleted || len(loaded.Entries) != 1 || loaded.Entries[0].UserID != 2 {
		t.Fatalf("unexpected board %+v", loaded)
	}
}

func TestOpenDisabled(t *testing.T) {
	s, err := Open(context.Background(), configWith("none"))
	if err != nil || s != nil {
		t.Fatalf("expected disabled storage, got %v %v", s, err)
	}
	if _, err := Open(context.Background(), configWith("ftp")); err == nil {
		t.Fatalf("expected unknown backend to fail")
	}
}

func configWith(backend string) config.StorageConfig {
	return config.StorageConfig{Backend: backend}
}
