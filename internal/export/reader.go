// Package export decodes the raw user export, a JSON array of user documents,
// into profile records.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/efebarandurmaz/kindred/internal/profile"
)

// Source document keys.
const (
	KeyUserID    = "id_utilisateur"
	KeyCity      = "ville"
	KeyRegion    = "region"
	KeyBirthDate = "date_naissance"
	KeyGender    = "id_genre"
	KeyCountry   = "pays"
	KeyTagline   = "accroche"
)

// genderFemale is the numeric id_genre code mapped to profile.CategoryB.
// Every other present value, including the string "2", maps to
// profile.CategoryA.
const genderFemale = 2

var (
	// ErrMissingField is wrapped by a RowError for an absent required key.
	ErrMissingField = errors.New("missing required field")
	// ErrMalformedRow is wrapped by a RowError for a row that is not a
	// decodable user document.
	ErrMalformedRow = errors.New("malformed row")
)

// RowError reports a dropped row. Index is the zero-based array position.
type RowError struct {
	Index int
	Field string
	Err   error
}

func (e *RowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("row %d: %s: %v", e.Index, e.Field, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

type document struct {
	UserID    *int64          `json:"id_utilisateur"`
	City      *string         `json:"ville"`
	Region    *string         `json:"region"`
	BirthDate *string         `json:"date_naissance"`
	Gender    json.RawMessage `json:"id_genre"`
	Country   *string         `json:"pays"`
	Tagline   *string         `json:"accroche"`
}

// Reader converts export documents to records. Ages are computed against the
// reader's clock.
type Reader struct {
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithClock sets the reference time for age computation.
func WithClock(now func() time.Time) Option {
	return func(r *Reader) { r.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReader creates a reader using the wall clock.
func NewReader(opts ...Option) *Reader {
	r := &Reader{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadFile decodes the export at path.
func (r *Reader) ReadFile(path string) ([]profile.Record, []RowError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()
	return r.Read(f)
}

// Read decodes a JSON array of user documents. Rows missing a required key
// are dropped and reported; the error is non-nil only when the input is not
// a JSON array.
func (r *Reader) Read(in io.Reader) ([]profile.Record, []RowError, error) {
	var rows []json.RawMessage
	if err := json.NewDecoder(in).Decode(&rows); err != nil {
		return nil, nil, fmt.Errorf("decode export: %w", err)
	}

	now := r.now()
	records := make([]profile.Record, 0, len(rows))
	var rowErrs []RowError
	for i, raw := range rows {
		rec, rowErr := r.convert(i, raw, now)
		if rowErr != nil {
			r.logger.Warn("export row dropped", "row", i, "err", rowErr)
			rowErrs = append(rowErrs, *rowErr)
			continue
		}
		records = append(records, rec)
	}
	return records, rowErrs, nil
}

func (r *Reader) convert(i int, raw json.RawMessage, now time.Time) (profile.Record, *RowError) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return profile.Record{}, &RowError{Index: i, Err: fmt.Errorf("%w: %w", ErrMalformedRow, err)}
	}

	switch {
	case doc.UserID == nil:
		return profile.Record{}, &RowError{Index: i, Field: KeyUserID, Err: ErrMissingField}
	case doc.City == nil:
		return profile.Record{}, &RowError{Index: i, Field: KeyCity, Err: ErrMissingField}
	case doc.Region == nil:
		return profile.Record{}, &RowError{Index: i, Field: KeyRegion, Err: ErrMissingField}
	}

	rec := profile.Record{
		UserID:   *doc.UserID,
		Age:      profile.AgeUnknown,
		Category: category(doc.Gender),
		City:     *doc.City,
		Region:   *doc.Region,
		Country:  doc.Country,
	}
	if doc.Tagline != nil {
		rec.Biography = *doc.Tagline
	}
	if doc.BirthDate != nil {
		rec.Age = r.age(rec.UserID, *doc.BirthDate, now)
	}
	return rec, nil
}

// age returns AgeUnknown for unparsable or non-past birth dates.
func (r *Reader) age(userID int64, birth string, now time.Time) int {
	t, err := time.Parse(time.RFC3339, birth)
	if err != nil {
		r.logger.Warn("unparsable birth date", "user_id", userID, "value", birth, "err", err)
		return profile.AgeUnknown
	}
	age, err := profile.AgeAt(t, now)
	if err != nil {
		r.logger.Warn("birth date not in the past", "user_id", userID, "value", birth)
		return profile.AgeUnknown
	}
	return age
}

func category(gender json.RawMessage) profile.Category {
	if len(gender) == 0 {
		return profile.CategoryUnknown
	}
	var code float64
	if err := json.Unmarshal(gender, &code); err == nil && code == genderFemale {
		return profile.CategoryB
	}
	return profile.CategoryA
}
