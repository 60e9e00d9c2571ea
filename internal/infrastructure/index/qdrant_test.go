package index

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"AIFlash/internal/ports"
)

// qdrantState is the in-memory collection behind the fake gRPC services.
type qdrantState struct {
	mu        sync.Mutex
	exists    bool
	dim       uint64
	points    map[string]*qdrant.RetrievedPoint
	scrolls   int
	lastQuery *qdrant.QueryPoints
}

func idString(id *qdrant.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func (s *qdrantState) put(id *qdrant.PointId, payload map[string]*qdrant.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[idString(id)] = &qdrant.RetrievedPoint{Id: id, Payload: payload}
}

func (s *qdrantState) point(key string) *qdrant.RetrievedPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.points[pointID(key).GetUuid()]
}

func (s *qdrantState) collection() (bool, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists, s.dim
}

func (s *qdrantState) resize(dim uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dim = dim
}

func (s *qdrantState) scrollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrolls
}

func (s *qdrantState) resetScrolls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrolls = 0
}

func (s *qdrantState) queryFilter() *qdrant.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuery.GetFilter()
}

func (s *qdrantState) sortedIDs() []string {
	ids := make([]string, 0, len(s.points))
	for id := range s.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type fakeHealth struct {
	qdrant.UnimplementedQdrantServer
}

func (fakeHealth) HealthCheck(context.Context, *qdrant.HealthCheckRequest) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{Title: "qdrant", Version: "1.16.2"}, nil
}

type fakeCollections struct {
	qdrant.UnimplementedCollectionsServer
	state *qdrantState
}

func (f *fakeCollections) Get(_ context.Context, req *qdrant.GetCollectionInfoRequest) (*qdrant.GetCollectionInfoResponse, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	if !f.state.exists {
		return nil, status.Errorf(codes.NotFound, "collection %s not found", req.GetCollectionName())
	}
	return &qdrant.GetCollectionInfoResponse{Result: &qdrant.CollectionInfo{
		Config: &qdrant.CollectionConfig{Params: &qdrant.CollectionParams{
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: f.state.dim, Distance: qdrant.Distance_Cosine}),
		}},
	}}, nil
}

func (f *fakeCollections) Create(_ context.Context, req *qdrant.CreateCollection) (*qdrant.CollectionOperationResponse, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.exists = true
	f.state.dim = req.GetVectorsConfig().GetParams().GetSize()
	f.state.points = map[string]*qdrant.RetrievedPoint{}
	return &qdrant.CollectionOperationResponse{Result: true}, nil
}

func (f *fakeCollections) Delete(context.Context, *qdrant.DeleteCollection) (*qdrant.CollectionOperationResponse, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.exists = false
	f.state.points = map[string]*qdrant.RetrievedPoint{}
	return &qdrant.CollectionOperationResponse{Result: true}, nil
}

type fakePoints struct {
	qdrant.UnimplementedPointsServer
	state *qdrantState
}

func (f *fakePoints) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.PointsOperationResponse, error) {
	for _, p := range req.GetPoints() {
		f.state.put(p.GetId(), p.GetPayload())
	}
	return &qdrant.PointsOperationResponse{Result: &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}}, nil
}

func (f *fakePoints) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.PointsOperationResponse, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	should := req.GetPoints().GetFilter().GetShould()
	for id, p := range f.state.points {
		if matchesAny(should, p) {
			delete(f.state.points, id)
		}
	}
	return &qdrant.PointsOperationResponse{Result: &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}}, nil
}

func matchesAny(conds []*qdrant.Condition, p *qdrant.RetrievedPoint) bool {
	for _, c := range conds {
		if field := c.GetField(); field != nil {
			value := p.GetPayload()[field.GetKey()].GetStringValue()
			if value != "" && slices.Contains(field.GetMatch().GetKeywords().GetStrings(), value) {
				return true
			}
		}
		for _, id := range c.GetHasId().GetHasId() {
			if idString(id) == idString(p.GetId()) {
				return true
			}
		}
	}
	return false
}

func (f *fakePoints) Scroll(_ context.Context, req *qdrant.ScrollPoints) (*qdrant.ScrollResponse, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.scrolls++

	ids := f.state.sortedIDs()
	start := 0
	if req.GetOffset() != nil {
		start = sort.SearchStrings(ids, idString(req.GetOffset()))
	}
	end := min(start+int(req.GetLimit()), len(ids))

	resp := &qdrant.ScrollResponse{}
	for _, id := range ids[start:end] {
		resp.Result = append(resp.Result, f.state.points[id])
	}
	if end < len(ids) {
		resp.NextPageOffset = f.state.points[ids[end]].GetId()
	}
	return resp, nil
}

func (f *fakePoints) Count(context.Context, *qdrant.CountPoints) (*qdrant.CountResponse, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	return &qdrant.CountResponse{Result: &qdrant.CountResult{Count: uint64(len(f.state.points))}}, nil
}

func (f *fakePoints) Query(_ context.Context, req *qdrant.QueryPoints) (*qdrant.QueryResponse, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.lastQuery = req

	points := make([]*qdrant.RetrievedPoint, 0, len(f.state.points))
	for _, p := range f.state.points {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].GetPayload()[fieldKey].GetStringValue() < points[j].GetPayload()[fieldKey].GetStringValue()
	})

	resp := &qdrant.QueryResponse{}
	for _, p := range points {
		if uint64(len(resp.Result)) >= req.GetLimit() {
			break
		}
		resp.Result = append(resp.Result, &qdrant.ScoredPoint{Id: p.GetId(), Payload: p.GetPayload(), Score: 0.5})
	}
	return resp, nil
}

func newFakeQdrant(t *testing.T, dim int) (*QdrantIndex, *qdrantState) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	state := &qdrantState{points: map[string]*qdrant.RetrievedPoint{}}
	srv := grpc.NewServer()
	qdrant.RegisterQdrantServer(srv, fakeHealth{})
	qdrant.RegisterCollectionsServer(srv, &fakeCollections{state: state})
	qdrant.RegisterPointsServer(srv, &fakePoints{state: state})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	idx, err := NewQdrantIndex(QdrantConfig{
		Host:        "127.0.0.1",
		Port:        lis.Addr().(*net.TCPAddr).Port,
		Collection:  "items",
		Dimension:   dim,
		CallTimeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx, state
}

func payloadOf(e ports.IndexEntry) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value)
	for k, v := range metadataOf(e) {
		payload[k] = qdrant.NewValueString(v)
	}
	return payload
}

func TestQdrantConfigValidation(t *testing.T) {
	_, err := NewQdrantIndex(QdrantConfig{Dimension: 8}, nil)
	require.Error(t, err)

	_, err = NewQdrantIndex(QdrantConfig{Collection: "items"}, nil)
	require.Error(t, err)
}

func TestQdrantPointIDIsDerivedFromKey(t *testing.T) {
	a := pointID("arxiv_2501.00001")
	assert.Equal(t, a.GetUuid(), pointID("arxiv_2501.00001").GetUuid())
	assert.NotEqual(t, a.GetUuid(), pointID("arxiv_2501.00002").GetUuid())

	parsed, err := uuid.Parse(a.GetUuid())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestQdrantEnsureSchemaCreatesCollection(t *testing.T) {
	idx, state := newFakeQdrant(t, 8)
	ctx := context.Background()

	require.NoError(t, idx.EnsureSchema(ctx))
	exists, dim := state.collection()
	assert.True(t, exists)
	assert.EqualValues(t, 8, dim)

	require.NoError(t, idx.EnsureSchema(ctx), "an empty collection with the right size is current")

	require.NoError(t, idx.Upsert(ctx, []ports.IndexEntry{entry("a", time.Now(), 1, 0)}))
	require.NoError(t, idx.EnsureSchema(ctx))
}

func TestQdrantDetectsOutdatedSchema(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	stale := entry("legacy", now)
	oldVersion := payloadOf(stale)
	oldVersion[fieldVersion] = qdrant.NewValueString("1")

	tests := []struct {
		name  string
		setup func(*qdrantState)
	}{
		{
			name:  "wrong dimension",
			setup: func(s *qdrantState) { s.resize(4) },
		},
		{
			name: "missing payload fields",
			setup: func(s *qdrantState) {
				s.put(pointID("legacy"), map[string]*qdrant.Value{fieldKey: qdrant.NewValueString("legacy")})
			},
		},
		{
			name:  "older schema version",
			setup: func(s *qdrantState) { s.put(pointID("legacy"), oldVersion) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, state := newFakeQdrant(t, 8)
			require.NoError(t, idx.EnsureSchema(ctx))
			tt.setup(state)

			err := idx.EnsureSchema(ctx)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ports.ErrSchemaOutdated), err)

			require.NoError(t, idx.Recreate(ctx))
			require.NoError(t, idx.EnsureSchema(ctx))
			n, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestQdrantUpsertKeysAndDelete(t *testing.T) {
	idx, state := newFakeQdrant(t, 2)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, idx.EnsureSchema(ctx))

	require.NoError(t, idx.Upsert(ctx, []ports.IndexEntry{entry("b", now, 0, 1), entry("a", now, 1, 0)}))
	require.NoError(t, idx.Upsert(ctx, []ports.IndexEntry{entry("a", now, 1, 1)}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "upserting the same key replaces the point")

	keys, err := idx.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	stored := state.point("a")
	require.NotNil(t, stored)
	assert.Equal(t, "id-a", stored.GetPayload()[fieldItemID].GetStringValue())
	assert.Equal(t, now.UnixMilli(), stored.GetPayload()[fieldPublishedAt].GetIntegerValue())
	assert.Equal(t, strconv.Itoa(SchemaVersion), stored.GetPayload()[fieldVersion].GetStringValue())

	require.NoError(t, idx.Delete(ctx, []string{"a", "missing"}))
	keys, err = idx.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)

	require.NoError(t, idx.Delete(ctx, nil))
	require.Error(t, idx.Upsert(ctx, []ports.IndexEntry{entry("", now, 1, 0)}))
}

func TestQdrantKeysPagesThroughScroll(t *testing.T) {
	idx, state := newFakeQdrant(t, 2)
	ctx := context.Background()
	require.NoError(t, idx.EnsureSchema(ctx))

	entries := make([]ports.IndexEntry, 0, scrollPage+44)
	for i := 0; i < scrollPage+44; i++ {
		entries = append(entries, entry(fmt.Sprintf("item_%03d", i), time.Now(), 1, 0))
	}
	require.NoError(t, idx.Upsert(ctx, entries))
	state.resetScrolls()

	keys, err := idx.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, scrollPage+44)
	assert.True(t, sort.StringsAreSorted(keys))
	assert.Equal(t, 2, state.scrollCount())
}

func TestQdrantKeylessPointsCanBeCleanedUp(t *testing.T) {
	idx, state := newFakeQdrant(t, 2)
	ctx := context.Background()
	require.NoError(t, idx.EnsureSchema(ctx))
	require.NoError(t, idx.Upsert(ctx, []ports.IndexEntry{entry("kept", time.Now(), 1, 0)}))

	foreign := uuid.NewString()
	state.put(qdrant.NewIDNum(7), map[string]*qdrant.Value{fieldTitle: qdrant.NewValueString("numeric id")})
	state.put(qdrant.NewIDUUID(foreign), map[string]*qdrant.Value{fieldTitle: qdrant.NewValueString("uuid id")})

	keys, err := idx.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"kept", orphanPrefix + "7", orphanPrefix + foreign}, keys)

	require.NoError(t, idx.Delete(ctx, []string{orphanPrefix + "7", orphanPrefix + foreign}))
	keys, err = idx.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, keys)

	_, ok := parseOrphanKey(orphanPrefix + "not-an-id")
	assert.False(t, ok)
	_, ok = parseOrphanKey("kept")
	assert.False(t, ok)
}

func TestQdrantSearchMapsHits(t *testing.T) {
	idx, state := newFakeQdrant(t, 2)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, idx.EnsureSchema(ctx))
	require.NoError(t, idx.Upsert(ctx, []ports.IndexEntry{entry("a", now, 1, 0), entry("b", now, 0, 1)}))

	hits, err := idx.Search(ctx, []float32{1, 0}, 0, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, hits)

	since := now.Add(-24 * time.Hour)
	hits, err = idx.Search(ctx, []float32{1, 0}, 1, since)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].Key)
	assert.Equal(t, "id-a", hits[0].ItemID)
	assert.InDelta(t, 0.5, hits[0].Score, 1e-6)

	must := state.queryFilter().GetMust()
	require.Len(t, must, 1)
	assert.Equal(t, fieldPublishedAt, must[0].GetField().GetKey())
	assert.InDelta(t, float64(since.UnixMilli()), must[0].GetField().GetRange().GetGte(), 0.5)

	_, err = idx.Search(ctx, []float32{1, 0}, 5, time.Time{})
	require.NoError(t, err)
	assert.Nil(t, state.queryFilter())
}
