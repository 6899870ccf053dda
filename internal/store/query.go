package store

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/efebarandurmaz/kindred/internal/profile"
)

// CandidateQuery is the conjunctive filter plus similarity cutoff evaluated
// by QueryCandidates.
type CandidateQuery struct {
	SubjectID int64
	// Vector is the subject's embedding, compared against each candidate's.
	Vector []float32
	// Category is the category a candidate must have.
	Category profile.Category
	City     string
	Region   string
	// Country must equal the candidate's country, both absent included.
	Country *string
	MinAge  int
	MaxAge  int
	// MinSimilarity is exclusive: candidates must score strictly above it.
	MinSimilarity float64
	// Limit caps the result size; 0 means unbounded.
	Limit int
}

// Admits reports whether rec passes every hard filter of q. Similarity is not
// considered.
func (q CandidateQuery) Admits(rec profile.Record) bool {
	return rec.UserID != q.SubjectID &&
		rec.Category == q.Category &&
		rec.Category != profile.CategoryUnknown &&
		rec.City == q.City &&
		rec.Region == q.Region &&
		profile.SameCountry(rec.Country, q.Country) &&
		rec.Age >= q.MinAge &&
		rec.Age <= q.MaxAge
}

// SortCandidates orders by similarity descending, then user id ascending.
func SortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Similarity != cs[j].Similarity {
			return cs[i].Similarity > cs[j].Similarity
		}
		return cs[i].Profile.UserID < cs[j].Profile.UserID
	})
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier rejects names that cannot be spliced into a schema
// statement. Backends use it before building DDL from field names.
func ValidateIdentifier(name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}
