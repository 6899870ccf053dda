// Package neo4j implements store.ProfileStore on a Neo4j graph with a native
// vector index.
package neo4j

import (
	"context"
	"errors"
	"fmt"

	"github.com/efebarandurmaz/kindred/internal/profile"
	"github.com/efebarandurmaz/kindred/internal/store"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const codeConstraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

// Store implements store.ProfileStore using Neo4j.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// New connects to Neo4j and verifies connectivity. An empty database selects
// the server default.
func New(ctx context.Context, uri, username, password, database string) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("%w: neo4j connectivity: %w", store.ErrStoreUnavailable, err)
	}
	return &Store{driver: driver, database: database}, nil
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("%w: %w", store.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) EnsureUniqueConstraint(ctx context.Context, field string) error {
	stmt, err := constraintStatement(field)
	if err != nil {
		return err
	}
	return s.exec(ctx, stmt)
}

func (s *Store) EnsureSimilarityIndex(ctx context.Context, field string, dims int, metric store.Metric) error {
	stmt, err := vectorIndexStatement(field, dims, metric)
	if err != nil {
		return err
	}
	return s.exec(ctx, stmt)
}

func (s *Store) exec(ctx context.Context, stmt string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.Run(ctx, stmt, nil)
	if err != nil {
		return classify(err)
	}
	if _, err := result.Consume(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, userID int64) (bool, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	found, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			"MATCH (p:Profile {user_id: $user_id}) RETURN count(p) > 0 AS found",
			map[string]any{"user_id": userID})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		found, _ := rec.Get("found")
		return found, nil
	})
	if err != nil {
		return false, classify(err)
	}
	ok, _ := found.(bool)
	return ok, nil
}

func (s *Store) Get(ctx context.Context, userID int64) (*profile.Record, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			"MATCH (p:Profile {user_id: $user_id}) RETURN p LIMIT 1",
			map[string]any{"user_id": userID})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return nil, err
			}
			return nil, nil
		}
		raw, _ := res.Record().Get("p")
		node, ok := raw.(neo4j.Node)
		if !ok {
			return nil, fmt.Errorf("unexpected value %T for profile node", raw)
		}
		rec, err := recordFromProps(node.Props)
		if err != nil {
			return nil, err
		}
		return &rec, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	rec, _ := result.(*profile.Record)
	if rec == nil {
		return nil, fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) UpsertIfAbsent(ctx context.Context, rec profile.Record) (store.UpsertResult, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	created, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, upsertStatement, upsertParams(rec))
		if err != nil {
			return nil, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return summary.Counters().NodesCreated() > 0, nil
	})
	if err != nil {
		err = classify(err)
		if errors.Is(err, store.ErrDuplicateKey) {
			return store.AlreadyExists, nil
		}
		return 0, fmt.Errorf("upsert user %d: %w", rec.UserID, err)
	}
	if ok, _ := created.(bool); ok {
		return store.Created, nil
	}
	return store.AlreadyExists, nil
}

func (s *Store) QueryCandidates(ctx context.Context, q store.CandidateQuery) ([]store.Candidate, error) {
	cypher, params := candidateQuery(q)

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		var out []store.Candidate
		for res.Next(ctx) {
			row := res.Record()
			raw, _ := row.Get("c")
			node, ok := raw.(neo4j.Node)
			if !ok {
				return nil, fmt.Errorf("unexpected value %T for candidate node", raw)
			}
			rec, err := recordFromProps(node.Props)
			if err != nil {
				return nil, err
			}
			sim, _ := row.Get("similarity")
			score, ok := sim.(float64)
			if !ok {
				return nil, fmt.Errorf("unexpected similarity %T for user %d", sim, rec.UserID)
			}
			out = append(out, store.Candidate{Profile: rec, Similarity: score})
		}
		return out, res.Err()
	})
	if err != nil {
		return nil, classify(err)
	}
	cands, _ := result.([]store.Candidate)
	return cands, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// classify maps driver errors onto the store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) && nerr.Code == codeConstraintViolation {
		return fmt.Errorf("%w: %w", store.ErrDuplicateKey, err)
	}
	if neo4j.IsConnectivityError(err) {
		return fmt.Errorf("%w: %w", store.ErrStoreUnavailable, err)
	}
	return err
}

var _ store.ProfileStore = (*Store)(nil)
