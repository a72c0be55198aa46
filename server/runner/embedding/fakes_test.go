package embedding

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/assetvault/plugin/ai/vector"
	"github.com/hrygo/assetvault/plugin/queue"
	"github.com/hrygo/assetvault/plugin/storage"
	"github.com/hrygo/assetvault/store"
	storetest "github.com/hrygo/assetvault/store/test"
)

const testDimensions = 4

// fakeEmbedder returns a deterministic vector per text and records every call.
type fakeEmbedder struct {
	mu    sync.Mutex
	texts []string
	err   error
	// onEmbed runs before every Embed call.
	onEmbed func()
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.onEmbed != nil {
		e.onEmbed()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts = append(e.texts, text)
	if e.err != nil {
		return nil, e.err
	}
	h := fnv.New32a()
	h.Write([]byte(text))
	sum := h.Sum32()
	vec := make([]float32, testDimensions)
	for i := range vec {
		vec[i] = float32((sum>>(8*i))&0xff) + 1
	}
	return vec, nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (*fakeEmbedder) Dimensions() int { return testDimensions }

func (*fakeEmbedder) Model() string { return "fake-embedding" }

func (e *fakeEmbedder) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

type fakeCaptioner struct {
	caption string
	err     error
	calls   int
}

func (c *fakeCaptioner) Caption(context.Context, []byte, string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.caption, nil
}

func (*fakeCaptioner) Model() string { return "fake-vision" }

type fakeObjects map[string][]byte

func (o fakeObjects) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := o[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (fakeObjects) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

// fakeQueue records sent messages and can be made to fail.
type fakeQueue struct {
	mu   sync.Mutex
	sent []queue.Message
	err  error
}

func (q *fakeQueue) Send(_ context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, msg)
	return nil
}

func (*fakeQueue) Receive(context.Context, int) ([]queue.Delivery, error) {
	return nil, errors.New("not supported")
}

func (*fakeQueue) Close() error { return nil }

// fakeDelivery records how a message was settled.
type fakeDelivery struct {
	msg      queue.Message
	acked    bool
	released bool
	retries  []time.Duration
}

func (d *fakeDelivery) Message() queue.Message { return d.msg }

func (d *fakeDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *fakeDelivery) Retry(_ context.Context, delay time.Duration) error {
	d.retries = append(d.retries, delay)
	return nil
}

func (d *fakeDelivery) Release(context.Context) error {
	d.released = true
	return nil
}

type testEnv struct {
	store     *store.Store
	embedder  *fakeEmbedder
	captioner *fakeCaptioner
	index     *vector.MemoryIndex
	queue     *fakeQueue
	objects   fakeObjects
	pipeline  *Pipeline
}

func newTestEnv(ctx context.Context, t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     storetest.NewTestingStore(ctx, t),
		embedder:  &fakeEmbedder{},
		captioner: &fakeCaptioner{caption: "a dog running on a beach"},
		index:     vector.NewMemoryIndex(testDimensions),
		queue:     &fakeQueue{},
		objects:   fakeObjects{},
	}
	env.pipeline = NewPipeline(Dependencies{
		Store:     env.store,
		Embedder:  env.embedder,
		Captioner: env.captioner,
		Index:     env.index,
		Queue:     env.queue,
		Objects:   env.objects,
	})
	return env
}

func (env *testEnv) createAsset(ctx context.Context, t *testing.T, orgID, filename, mimeType string) *store.Asset {
	t.Helper()
	asset, err := env.store.CreateAsset(ctx, &store.Asset{
		OrganizationID: orgID,
		Filename:       filename,
		MimeType:       mimeType,
		Size:           512,
		StorageKey:     orgID + "/" + filename,
	})
	require.NoError(t, err)
	env.objects[asset.StorageKey] = []byte("image-bytes")
	return asset
}

func (env *testEnv) getAsset(ctx context.Context, t *testing.T, id string) *store.Asset {
	t.Helper()
	asset, err := env.store.GetAsset(ctx, &store.FindAsset{ID: &id})
	require.NoError(t, err)
	return asset
}

func (env *testEnv) setStatus(ctx context.Context, t *testing.T, id string, status store.EmbeddingStatus, reason *string) {
	t.Helper()
	_, err := env.store.TransitionEmbeddingStatus(ctx, &store.TransitionEmbeddingStatus{ID: &id, To: status, Error: reason})
	require.NoError(t, err)
}
