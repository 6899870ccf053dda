package qdrant

import (
	"fmt"

	"github.com/efebarandurmaz/kindred/internal/profile"
	"github.com/efebarandurmaz/kindred/internal/store"
	pb "github.com/qdrant/go-client/qdrant"
)

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func integerValue(n int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: n}}
}

// payloadFromRecord omits bio and pays when absent so that IsEmpty filters
// see them as missing.
func payloadFromRecord(rec profile.Record) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		store.FieldUserID:   integerValue(rec.UserID),
		store.FieldAge:      integerValue(int64(rec.Age)),
		store.FieldCategory: stringValue(string(rec.Category)),
		store.FieldCity:     stringValue(rec.City),
		store.FieldRegion:   stringValue(rec.Region),
	}
	if rec.HasBiography() {
		payload[store.FieldBio] = stringValue(rec.Biography)
	}
	if rec.Country != nil {
		payload[store.FieldCountry] = stringValue(*rec.Country)
	}
	return payload
}

func recordFromPayload(payload map[string]*pb.Value) (profile.Record, error) {
	rec := profile.Record{Age: profile.AgeUnknown, Category: profile.CategoryUnknown}

	id, ok := payload[store.FieldUserID].GetKind().(*pb.Value_IntegerValue)
	if !ok {
		return rec, fmt.Errorf("payload %s: expected integer", store.FieldUserID)
	}
	rec.UserID = id.IntegerValue

	if v, ok := payload[store.FieldAge].GetKind().(*pb.Value_IntegerValue); ok {
		rec.Age = int(v.IntegerValue)
	}
	if v := payload[store.FieldCategory].GetStringValue(); v != "" {
		rec.Category = profile.Category(v)
	}
	rec.Biography = payload[store.FieldBio].GetStringValue()
	rec.City = payload[store.FieldCity].GetStringValue()
	rec.Region = payload[store.FieldRegion].GetStringValue()
	if v, ok := payload[store.FieldCountry].GetKind().(*pb.Value_StringValue); ok {
		rec.Country = profile.StringPtr(v.StringValue)
	}
	return rec, nil
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
		Key:   key,
		Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
	}}}
}

// buildFilter expresses the candidate predicate except the similarity
// threshold, which the search request carries.
func buildFilter(q store.CandidateQuery) *pb.Filter {
	minAge, maxAge := float64(q.MinAge), float64(q.MaxAge)
	must := []*pb.Condition{
		keywordCondition(store.FieldCategory, string(q.Category)),
		keywordCondition(store.FieldCity, q.City),
		keywordCondition(store.FieldRegion, q.Region),
		{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   store.FieldAge,
			Range: &pb.Range{Gte: &minAge, Lte: &maxAge},
		}}},
	}
	if q.Country != nil {
		must = append(must, keywordCondition(store.FieldCountry, *q.Country))
	} else {
		must = append(must, &pb.Condition{ConditionOneOf: &pb.Condition_IsEmpty{
			IsEmpty: &pb.IsEmptyCondition{Key: store.FieldCountry},
		}})
	}

	return &pb.Filter{
		Must: must,
		MustNot: []*pb.Condition{
			keywordCondition(store.FieldCategory, string(profile.CategoryUnknown)),
			{ConditionOneOf: &pb.Condition_HasId{HasId: &pb.HasIdCondition{
				HasId: []*pb.PointId{pointID(q.SubjectID)},
			}}},
		},
	}
}
