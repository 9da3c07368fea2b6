package memory

import (
	"encoding/json"
	"fmt"

	"hujra/pkg/domain"
)

// Bucket is one serialised collection as stored by the SQL backends in their
// state(bucket, payload) table.
type Bucket struct {
	Name    string
	Payload []byte
}

// EncodeBuckets serialises each collection of the snapshot as a JSON object
// keyed by record id, in domain.Collections order.
func EncodeBuckets(snapshot Snapshot) ([]Bucket, error) {
	out := make([]Bucket, 0, len(domain.Collections))
	for _, collection := range domain.Collections {
		var (
			data []byte
			err  error
		)
		switch collection {
		case domain.CollectionStudents:
			data, err = json.Marshal(nonNilStudents(snapshot.Students))
		case domain.CollectionVisits:
			data, err = json.Marshal(nonNilVisits(snapshot.Visits))
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", collection, err)
		}
		out = append(out, Bucket{Name: string(collection), Payload: data})
	}
	return out, nil
}

// DecodeBucket merges one stored bucket into the snapshot. Unknown bucket
// names left behind by other tools are ignored.
func DecodeBucket(snapshot *Snapshot, name string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch domain.Collection(name) {
	case domain.CollectionStudents:
		target = &snapshot.Students
	case domain.CollectionVisits:
		target = &snapshot.Visits
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func nonNilStudents(m map[string]Student) map[string]Student {
	if m == nil {
		return map[string]Student{}
	}
	return m
}

func nonNilVisits(m map[string]VisitEvent) map[string]VisitEvent {
	if m == nil {
		return map[string]VisitEvent{}
	}
	return m
}
