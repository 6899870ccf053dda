// Package qdrant implements store.ProfileStore on a Qdrant collection. The
// point id is the user id and the biography vector is the named vector
// "bio_embedding".
package qdrant

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/efebarandurmaz/kindred/internal/profile"
	"github.com/efebarandurmaz/kindred/internal/store"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const minFetch = 64

// Store implements store.ProfileStore using Qdrant.
//
// Qdrant has no conditional insert, so UpsertIfAbsent is a read followed by a
// write serialized per user id inside this process. Concurrent writers in
// other processes are not excluded.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dims        int
	locks       *store.KeyLock
}

// New creates a Qdrant-backed store. dims fixes the vector size used when the
// collection is created.
func New(ctx context.Context, host string, port int, collection string, dims int) (*Store, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("qdrant: dimensions must be positive, got %d", dims)
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        dims,
		locks:       store.NewKeyLock(),
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := pb.NewQdrantClient(s.conn).HealthCheck(ctx, &pb.HealthCheckRequest{})
	return classify(err)
}

func (s *Store) ensureCollection(ctx context.Context) error {
	info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
	if err == nil {
		size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParamsMap().GetMap()[store.FieldEmbedding].GetSize()
		if size != 0 && size != uint64(s.dims) {
			return fmt.Errorf("%w: collection %s has %d dimensions, want %d", store.ErrInvalidVector, s.collection, size, s.dims)
		}
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return classify(err)
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_ParamsMap{
			ParamsMap: &pb.VectorParamsMap{Map: map[string]*pb.VectorParams{
				store.FieldEmbedding: {Size: uint64(s.dims), Distance: pb.Distance_Cosine},
			}},
		}},
	})
	if err != nil && !alreadyExists(err) {
		return fmt.Errorf("create collection %s: %w", s.collection, classify(err))
	}
	return nil
}

func (s *Store) createFieldIndex(ctx context.Context, field string, fieldType pb.FieldType) error {
	wait := true
	_, err := s.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: s.collection,
		Wait:           &wait,
		FieldName:      field,
		FieldType:      fieldType.Enum(),
	})
	if err != nil && !alreadyExists(err) {
		return fmt.Errorf("index %s: %w", field, classify(err))
	}
	return nil
}

// EnsureUniqueConstraint relies on point ids for uniqueness; it creates the
// collection and an integer payload index on the id field.
func (s *Store) EnsureUniqueConstraint(ctx context.Context, field string) error {
	if field != store.FieldUserID {
		return fmt.Errorf("qdrant store: uniqueness is only available on %s, got %q", store.FieldUserID, field)
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	return s.createFieldIndex(ctx, field, pb.FieldType_FieldTypeInteger)
}

// EnsureSimilarityIndex creates the collection with its named vector and the
// payload indexes used by candidate filters.
func (s *Store) EnsureSimilarityIndex(ctx context.Context, field string, dims int, metric store.Metric) error {
	if field != store.FieldEmbedding {
		return fmt.Errorf("qdrant store: vector must be %s, got %q", store.FieldEmbedding, field)
	}
	if dims != s.dims {
		return fmt.Errorf("%w: index requested with %d dimensions, store has %d", store.ErrInvalidVector, dims, s.dims)
	}
	if metric != store.MetricCosine {
		return fmt.Errorf("qdrant store: unsupported metric %q", metric)
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	for _, f := range []string{store.FieldCategory, store.FieldCity, store.FieldRegion, store.FieldCountry} {
		if err := s.createFieldIndex(ctx, f, pb.FieldType_FieldTypeKeyword); err != nil {
			return err
		}
	}
	return s.createFieldIndex(ctx, store.FieldAge, pb.FieldType_FieldTypeInteger)
}

func (s *Store) Exists(ctx context.Context, userID int64) (bool, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{pointID(userID)},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: false}},
	})
	if err != nil {
		return false, classify(err)
	}
	return len(resp.GetResult()) > 0, nil
}

func (s *Store) Get(ctx context.Context, userID int64) (*profile.Record, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{pointID(userID)},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}

	pt := resp.GetResult()[0]
	rec, err := recordFromPayload(pt.GetPayload())
	if err != nil {
		return nil, err
	}
	vec := pt.GetVectors().GetVectors().GetVectors()[store.FieldEmbedding]
	if data := vec.GetDense().GetData(); len(data) > 0 {
		rec.Embedding = data
	} else if data := vec.GetData(); len(data) > 0 {
		rec.Embedding = data
	}
	return &rec, nil
}

func (s *Store) UpsertIfAbsent(ctx context.Context, rec profile.Record) (store.UpsertResult, error) {
	if rec.HasEmbedding() && len(rec.Embedding) != s.dims {
		return 0, fmt.Errorf("user %d: %w: got %d, want %d", rec.UserID, store.ErrInvalidVector, len(rec.Embedding), s.dims)
	}

	unlock := s.locks.Lock(rec.UserID)
	defer unlock()

	exists, err := s.Exists(ctx, rec.UserID)
	if err != nil {
		return 0, fmt.Errorf("upsert user %d: %w", rec.UserID, err)
	}
	if exists {
		return store.AlreadyExists, nil
	}

	named := map[string]*pb.Vector{}
	if rec.HasEmbedding() {
		named[store.FieldEmbedding] = &pb.Vector{Data: rec.Embedding}
	}
	wait := true
	_, err = s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id:      pointID(rec.UserID),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vectors{Vectors: &pb.NamedVectors{Vectors: named}}},
			Payload: payloadFromRecord(rec),
		}},
	})
	if err != nil {
		return 0, fmt.Errorf("upsert user %d: %w", rec.UserID, classify(err))
	}
	return store.Created, nil
}

// QueryCandidates pushes filters and the score threshold into the search.
// Qdrant cannot tie-break on user id, so when a limit is set the fetch grows
// until every candidate tied with the last kept score has been seen.
func (s *Store) QueryCandidates(ctx context.Context, q store.CandidateQuery) ([]store.Candidate, error) {
	n := q.Limit * 2
	if n < minFetch {
		n = minFetch
	}
	vectorName := store.FieldEmbedding
	// Qdrant's threshold is inclusive and float32; start just below so the
	// strict comparison below is the one that decides.
	threshold := math.Nextafter32(float32(q.MinSimilarity), float32(math.Inf(-1)))
	filter := buildFilter(q)

	for {
		resp, err := s.points.Search(ctx, &pb.SearchPoints{
			CollectionName: s.collection,
			Vector:         q.Vector,
			VectorName:     &vectorName,
			Filter:         filter,
			Limit:          uint64(n),
			ScoreThreshold: &threshold,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, classify(err)
		}
		pts := resp.GetResult()
		if !needMore(pts, n, q.Limit) {
			return collect(pts, q)
		}
		n *= 2
	}
}

func needMore(pts []*pb.ScoredPoint, fetched, limit int) bool {
	if len(pts) < fetched {
		return false
	}
	if limit == 0 {
		return true
	}
	return pts[limit-1].GetScore() <= pts[len(pts)-1].GetScore()
}

func collect(pts []*pb.ScoredPoint, q store.CandidateQuery) ([]store.Candidate, error) {
	out := make([]store.Candidate, 0, len(pts))
	for _, pt := range pts {
		sim := float64(pt.GetScore())
		if sim <= q.MinSimilarity {
			continue
		}
		rec, err := recordFromPayload(pt.GetPayload())
		if err != nil {
			return nil, err
		}
		out = append(out, store.Candidate{Profile: rec, Similarity: sim})
	}
	store.SortCandidates(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.conn.Close()
}

func pointID(userID int64) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(userID)}}
}

func alreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists || strings.Contains(err.Error(), "already exists")
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", store.ErrStoreUnavailable, err)
	}
	return err
}

var _ store.ProfileStore = (*Store)(nil)
