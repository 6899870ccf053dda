package neo4j

import (
	"fmt"
	"strings"

	"github.com/efebarandurmaz/kindred/internal/profile"
	"github.com/efebarandurmaz/kindred/internal/store"
)

const (
	label = "Profile"

	// Names used by the legacy importer, kept so existing databases are reused.
	constraintName = "user_id"
	vectorIndex    = "bio_embeddings"
)

func constraintStatement(field string) (string, error) {
	if err := store.ValidateIdentifier(field); err != nil {
		return "", err
	}
	name := field + "_unique"
	if field == store.FieldUserID {
		name = constraintName
	}
	return fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (p:%s) REQUIRE p.%s IS UNIQUE", name, label, field), nil
}

func vectorIndexStatement(field string, dims int, metric store.Metric) (string, error) {
	if err := store.ValidateIdentifier(field); err != nil {
		return "", err
	}
	if dims <= 0 {
		return "", fmt.Errorf("dimensions must be positive, got %d", dims)
	}
	if metric != store.MetricCosine {
		return "", fmt.Errorf("unsupported metric %q", metric)
	}
	name := vectorIndex
	if field != store.FieldEmbedding {
		name = field + "_vectors"
	}
	return fmt.Sprintf("CREATE VECTOR INDEX %s IF NOT EXISTS\n"+
		"FOR (p:%s) ON p.%s\n"+
		"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: '%s'}}",
		name, label, field, dims, metric), nil
}

// upsertStatement creates the node with all properties in one statement.
// MERGE on the constrained key makes a second write a no-op.
const upsertStatement = `MERGE (p:Profile {user_id: $user_id})
ON CREATE SET
  p.age = $age,
  p.bio = $bio,
  p.sex = $sex,
  p.ville = $ville,
  p.region = $region,
  p.pays = $pays,
  p.bio_embedding = $bio_embedding`

func upsertParams(rec profile.Record) map[string]any {
	params := map[string]any{
		store.FieldUserID:    rec.UserID,
		store.FieldAge:       int64(rec.Age),
		store.FieldBio:       nil,
		store.FieldCategory:  string(rec.Category),
		store.FieldCity:      rec.City,
		store.FieldRegion:    rec.Region,
		store.FieldCountry:   nil,
		store.FieldEmbedding: nil,
	}
	if rec.HasBiography() {
		params[store.FieldBio] = rec.Biography
	}
	if rec.Country != nil {
		params[store.FieldCountry] = *rec.Country
	}
	if rec.HasEmbedding() {
		// The driver encodes []float64 as a LIST<FLOAT>, the type vector indexes accept.
		vec := make([]float64, len(rec.Embedding))
		for i, v := range rec.Embedding {
			vec[i] = float64(v)
		}
		params[store.FieldEmbedding] = vec
	}
	return params
}

// candidateQuery builds the filtered similarity query. Neo4j's
// vector.similarity.cosine is rescaled to [0, 1] as (1 + cos) / 2, so it is
// mapped back to the raw cosine before the threshold is applied.
func candidateQuery(q store.CandidateQuery) (string, map[string]any) {
	vec := make([]float64, len(q.Vector))
	for i, v := range q.Vector {
		vec[i] = float64(v)
	}
	params := map[string]any{
		"subject_id": q.SubjectID,
		"vector":     vec,
		"sex":        string(q.Category),
		"ville":      q.City,
		"region":     q.Region,
		"pays":       nil,
		"min_age":    int64(q.MinAge),
		"max_age":    int64(q.MaxAge),
		"threshold":  q.MinSimilarity,
	}
	if q.Country != nil {
		params["pays"] = *q.Country
	}

	var b strings.Builder
	b.WriteString("MATCH (c:Profile)\n")
	b.WriteString("WHERE c.user_id <> $subject_id\n")
	b.WriteString("  AND c.sex = $sex AND c.sex <> 'U'\n")
	b.WriteString("  AND c.ville = $ville AND c.region = $region\n")
	b.WriteString("  AND ((c.pays IS NULL AND $pays IS NULL) OR c.pays = $pays)\n")
	b.WriteString("  AND c.age >= $min_age AND c.age <= $max_age\n")
	b.WriteString("  AND c.bio_embedding IS NOT NULL\n")
	b.WriteString("WITH c, 2 * vector.similarity.cosine($vector, c.bio_embedding) - 1 AS similarity\n")
	b.WriteString("WHERE similarity > $threshold\n")
	b.WriteString("RETURN c, similarity\n")
	b.WriteString("ORDER BY similarity DESC, c.user_id ASC")
	if q.Limit > 0 {
		b.WriteString("\nLIMIT $limit")
		params["limit"] = int64(q.Limit)
	}
	return b.String(), params
}

// recordFromProps maps node properties back to a profile.
func recordFromProps(props map[string]any) (profile.Record, error) {
	var rec profile.Record

	id, ok := props[store.FieldUserID].(int64)
	if !ok {
		return rec, fmt.Errorf("node has no integer %s", store.FieldUserID)
	}
	rec.UserID = id
	rec.Age = profile.AgeUnknown
	if age, ok := props[store.FieldAge].(int64); ok {
		rec.Age = int(age)
	}
	rec.Biography, _ = props[store.FieldBio].(string)
	rec.Category = profile.CategoryUnknown
	if sex, ok := props[store.FieldCategory].(string); ok {
		rec.Category = profile.Category(sex)
	}
	rec.City, _ = props[store.FieldCity].(string)
	rec.Region, _ = props[store.FieldRegion].(string)
	if pays, ok := props[store.FieldCountry].(string); ok {
		rec.Country = profile.StringPtr(pays)
	}
	if raw, ok := props[store.FieldEmbedding]; ok && raw != nil {
		vec, err := toFloat32s(raw)
		if err != nil {
			return rec, fmt.Errorf("user %d: %w", id, err)
		}
		rec.Embedding = vec
	}
	return rec, nil
}

func toFloat32s(v any) ([]float32, error) {
	switch vals := v.(type) {
	case []float32:
		return append([]float32(nil), vals...), nil
	case []float64:
		out := make([]float32, len(vals))
		for i, f := range vals {
			out[i] = float32(f)
		}
		return out, nil
	case []any:
		out := make([]float32, len(vals))
		for i, item := range vals {
			f, ok := item.(float64)
			if !ok {
				return nil, fmt.Errorf("%s[%d] is %T, not a float", store.FieldEmbedding, i, item)
			}
			out[i] = float32(f)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s is %T, not a list of floats", store.FieldEmbedding, v)
}
