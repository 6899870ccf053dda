package store

import (
	"testing"

	"github.com/efebarandurmaz/kindred/internal/profile"
)

func baseQuery() CandidateQuery {
	return CandidateQuery{
		SubjectID: 1,
		Category:  profile.CategoryB,
		City:      "Paris",
		Region:    "IDF",
		Country:   profile.StringPtr("FR"),
		MinAge:    25,
		MaxAge:    35,
	}
}

func baseCandidate() profile.Record {
	return profile.Record{
		UserID:   2,
		Age:      32,
		Category: profile.CategoryB,
		City:     "Paris",
		Region:   "IDF",
		Country:  profile.StringPtr("FR"),
	}
}

func TestCandidateQuery_Admits(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(q *CandidateQuery, r *profile.Record)
		want   bool
	}{
		{"all match", func(q *CandidateQuery, r *profile.Record) {}, true},
		{"self", func(q *CandidateQuery, r *profile.Record) { r.UserID = q.SubjectID }, false},
		{"same category", func(q *CandidateQuery, r *profile.Record) { r.Category = profile.CategoryA }, false},
		{"unknown category", func(q *CandidateQuery, r *profile.Record) {
			q.Category = profile.CategoryUnknown
			r.Category = profile.CategoryUnknown
		}, false},
		{"other city", func(q *CandidateQuery, r *profile.Record) { r.City = "Lyon" }, false},
		{"other region", func(q *CandidateQuery, r *profile.Record) { r.Region = "ARA" }, false},
		{"other country", func(q *CandidateQuery, r *profile.Record) { r.Country = profile.StringPtr("BE") }, false},
		{"candidate country absent", func(q *CandidateQuery, r *profile.Record) { r.Country = nil }, false},
		{"subject country absent", func(q *CandidateQuery, r *profile.Record) { q.Country = nil }, false},
		{"both countries absent", func(q *CandidateQuery, r *profile.Record) { q.Country, r.Country = nil, nil }, true},
		{"age at lower bound", func(q *CandidateQuery, r *profile.Record) { r.Age = 25 }, true},
		{"age at upper bound", func(q *CandidateQuery, r *profile.Record) { r.Age = 35 }, true},
		{"too young", func(q *CandidateQuery, r *profile.Record) { r.Age = 24 }, false},
		{"too old", func(q *CandidateQuery, r *profile.Record) { r.Age = 36 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, r := baseQuery(), baseCandidate()
			tt.mutate(&q, &r)
			if got := q.Admits(r); got != tt.want {
				t.Errorf("Admits() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSortCandidates(t *testing.T) {
	cs := []Candidate{
		{Profile: profile.Record{UserID: 5}, Similarity: 0.6},
		{Profile: profile.Record{UserID: 3}, Similarity: 0.9},
		{Profile: profile.Record{UserID: 9}, Similarity: 0.6},
		{Profile: profile.Record{UserID: 2}, Similarity: 0.6},
	}
	SortCandidates(cs)

	want := []int64{3, 2, 5, 9}
	for i, id := range want {
		if cs[i].Profile.UserID != id {
			t.Fatalf("position %d: got user %d, want %d", i, cs[i].Profile.UserID, id)
		}
	}
}

func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"user_id", "bio_embedding", "_x1"} {
		if err := ValidateIdentifier(ok); err != nil {
			t.Errorf("%q: unexpected error %v", ok, err)
		}
	}
	for _, bad := range []string{"", "1abc", "a-b", "x) DETACH DELETE n //", "a b"} {
		if err := ValidateIdentifier(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}
