package schema

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: make(map[string][]byte)}
}

func (m *memoryObjects) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, ErrObjectNotFound
	}

	return data, nil
}

func (m *memoryObjects) Put(_ context.Context, bucket, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[bucket+"/"+key] = data

	return nil
}

func (m *memoryObjects) List(_ context.Context, bucket, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string

	for k := range m.objects {
		key, ok := strings.CutPrefix(k, bucket+"/")
		if ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)

	return keys, nil
}

func TestS3StoreFetch(t *testing.T) {
	ctx := context.Background()
	objects := newMemoryObjects()
	require.NoError(t, objects.Put(ctx, "team", "schemas/shop.yaml", strings.NewReader("name: shop"), 10, "application/yaml"))

	store, err := NewS3StoreWithClient(objects, "team", "/schemas/")
	require.NoError(t, err)

	doc, err := store.Fetch(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, doc.Format)
	assert.Equal(t, "s3://team/schemas/shop.yaml", doc.Source)

	_, err = store.Fetch(ctx, "missing")
	assert.ErrorIs(t, err, ErrSchemaNotFound)

	_, err = store.Fetch(ctx, "../shop")
	assert.Error(t, err)
}

func TestS3StoreFetchPropagatesClientErrors(t *testing.T) {
	objects := newMemoryObjects()
	objects.getErr = errors.New("connection refused")

	store, err := NewS3StoreWithClient(objects, "team", "")
	require.NoError(t, err)

	_, err = store.Fetch(context.Background(), "shop")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSchemaNotFound)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestS3StoreList(t *testing.T) {
	ctx := context.Background()
	objects := newMemoryObjects()

	for _, key := range []string{"schemas/shop.json", "schemas/hr.yml", "schemas/archive/old.json", "schemas/readme.md", "other/x.json"} {
		require.NoError(t, objects.Put(ctx, "team", key, strings.NewReader("{}"), 2, ""))
	}

	store, err := NewS3StoreWithClient(objects, "team", "schemas")
	require.NoError(t, err)

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hr", "shop"}, names)
}

func TestS3StoreLoadsThroughLoader(t *testing.T) {
	ctx := context.Background()
	objects := newMemoryObjects()
	doc := `{"name":"tiny","tables":[{"name":"t","columns":[{"name":"id","type":"integer"}]}]}`
	require.NoError(t, objects.Put(ctx, "team", "tiny.json", strings.NewReader(doc), int64(len(doc)), "application/json"))

	store, err := NewS3StoreWithClient(objects, "team", "")
	require.NoError(t, err)

	result := NewLoader(store, nil).Load(ctx, "tiny")
	require.True(t, result.Valid(), result.Errors)
	assert.Equal(t, "tiny", result.Schema.Name)
}

func TestNewS3StoreWithClientValidation(t *testing.T) {
	_, err := NewS3StoreWithClient(nil, "b", "")
	assert.Error(t, err)

	_, err = NewS3StoreWithClient(newMemoryObjects(), " ", "")
	assert.Error(t, err)
}

func TestParseEndpoint(t *testing.T) {
	host, secure, err := parseEndpoint("https://s3.example.com:9000", false)
	require.NoError(t, err)
	assert.Equal(t, "s3.example.com:9000", host)
	assert.True(t, secure)

	host, secure, err = parseEndpoint("localhost:9000", false)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", host)
	assert.False(t, secure)

	_, _, err = parseEndpoint("", true)
	assert.Error(t, err)
}

func TestCleanPrefix(t *testing.T) {
	assert.Equal(t, "", CleanPrefix(""))
	assert.Equal(t, "", CleanPrefix("/"))
	assert.Equal(t, "a/b", CleanPrefix("/a/b/"))
	assert.Equal(t, "a/b", CleanPrefix("a//b"))
}
