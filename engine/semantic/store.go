// Package semantic owns all Qdrant operations. The collection uses named
// vectors: every point carries one vector per embedding space, so a single
// upsert serves every retrieval space at once.
package semantic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// pointsAPI and collectionsAPI are the slices of the Qdrant gRPC surface
// the store actually uses. Tests substitute mocks.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store is the sole owner of the Qdrant collection.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	logger      *slog.Logger
}

// New creates a Store connected to Qdrant at the given gRPC address.
func New(addr, collection string, logger *slog.Logger) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, logger)
	s.conn = conn
	return s, nil
}

// NewWithClients builds a Store over pre-built clients. Used by tests.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		points:      points,
		collections: collections,
		collection:  collection,
		logger:      logger,
	}
}

// Close closes the underlying gRPC connection, if any.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// EnsureCollection creates the collection with one named vector space per
// entry in dims (space name to vector size). Existing collections are left
// untouched.
func (s *Store) EnsureCollection(ctx context.Context, dims map[string]int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	params := make(map[string]*pb.VectorParams, len(dims))
	for name, size := range dims {
		params[name] = &pb.VectorParams{
			Size:     uint64(size),
			Distance: pb.Distance_Cosine,
		}
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_ParamsMap{
				ParamsMap: &pb.VectorParamsMap{Map: params},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", s.collection, err)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (s *Store) DeleteCollection(ctx context.Context) error {
	_, err := s.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: s.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", s.collection, err)
	}
	return nil
}

// Upsert stores one point per document, each carrying the named vectors from
// embeddings (space name to per-document vectors). texts and payloads must
// have the same length, and every embedding slice must match it too.
// Documents whose vector is empty in any space are skipped rather than
// failing the whole batch; the skip count is returned.
func (s *Store) Upsert(ctx context.Context, texts []string, payloads []map[string]any, embeddings map[string][][]float32) (int, error) {
	if len(texts) == 0 {
		return 0, nil
	}
	if len(payloads) != len(texts) {
		return 0, fmt.Errorf("semantic: upsert: %d texts but %d payloads", len(texts), len(payloads))
	}
	for space, vecs := range embeddings {
		if len(vecs) != len(texts) {
			return 0, fmt.Errorf("semantic: upsert: space %s has %d vectors for %d texts", space, len(vecs), len(texts))
		}
	}

	points := make([]*pb.PointStruct, 0, len(texts))
	skipped := 0
	for i, text := range texts {
		named := make(map[string]*pb.Vector, len(embeddings))
		ok := true
		for space, vecs := range embeddings {
			if len(vecs[i]) == 0 {
				ok = false
				break
			}
			named[space] = &pb.Vector{Data: vecs[i]}
		}
		if !ok {
			s.logger.Warn("skipping document with missing vector", "index", i)
			skipped++
			continue
		}

		payload := payloads[i]
		if payload == nil {
			payload = map[string]any{}
		}
		if _, exists := payload["text"]; !exists {
			payload["text"] = text
		}
		if _, exists := payload["user_id"]; !exists {
			payload["user_id"] = "default"
		}

		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: uuid.NewString()},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vectors{
					Vectors: &pb.NamedVectors{Vectors: named},
				},
			},
			Payload: toPBPayload(payload),
		})
	}
	if len(points) == 0 {
		return skipped, nil
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return skipped, fmt.Errorf("semantic: upsert %d points: %w", len(points), err)
	}
	return skipped, nil
}

// Search runs one k-NN search per query vector space and returns the hits
// keyed by space. A space failing is tolerated and logged as long as at
// least one space answers; only when every space fails is an error returned.
func (s *Store) Search(ctx context.Context, queryVectors map[string][]float32, topK int) (map[string][]SearchHit, error) {
	if len(queryVectors) == 0 {
		return nil, fmt.Errorf("semantic: search: no query vectors")
	}

	out := make(map[string][]SearchHit, len(queryVectors))
	var lastErr error
	for space, vec := range queryVectors {
		name := space
		resp, err := s.points.Search(ctx, &pb.SearchPoints{
			CollectionName: s.collection,
			Vector:         vec,
			VectorName:     &name,
			Limit:          uint64(topK),
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			s.logger.Warn("search failed for vector space", "space", space, "error", err)
			lastErr = err
			continue
		}

		hits := make([]SearchHit, len(resp.GetResult()))
		for i, r := range resp.GetResult() {
			hits[i] = SearchHit{
				ID:      r.GetId().GetUuid(),
				Score:   r.GetScore(),
				Payload: fromPBPayload(r.GetPayload()),
			}
		}
		out[space] = hits
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("semantic: search: all vector spaces failed: %w", lastErr)
	}
	return out, nil
}

// DeleteRecipeVectors removes every point belonging to one user recipe.
// Used before re-indexing an edited recipe.
func (s *Store) DeleteRecipeVectors(ctx context.Context, userID, recipeID string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						fieldMatch("kind", "user_recipe"),
						fieldMatch("user_id", userID),
						fieldMatch("recipe_id", recipeID),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete recipe %s vectors: %w", recipeID, err)
	}
	return nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func toPBPayload(payload map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(payload))
	for k, val := range payload {
		switch tv := val.(type) {
		case string:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			out[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			out[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		default:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}
	return out
}

func fromPBPayload(payload map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, val := range payload {
		switch kind := val.GetKind().(type) {
		case *pb.Value_StringValue:
			out[k] = kind.StringValue
		case *pb.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *pb.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *pb.Value_BoolValue:
			out[k] = kind.BoolValue
		default:
			out[k] = val.String()
		}
	}
	return out
}
