package actions

import (
	"github.com/mschirtzinger/tasksync/internal/schema"
)

// cloneRecords returns a shallow copy so overlays never alias the cache.
func cloneRecords(recs []schema.Record) []schema.Record {
	out := make([]schema.Record, len(recs))
	copy(out, recs)
	return out
}

// upsertRecord replaces the record with the same ID or appends it.
func upsertRecord(recs []schema.Record, rec schema.Record) []schema.Record {
	out := cloneRecords(recs)
	for i := range out {
		if out[i].ID == rec.ID {
			out[i] = rec
			return out
		}
	}
	return append(out, rec)
}

// removeRecord drops the record with the given ID.
func removeRecord(recs []schema.Record, id string) []schema.Record {
	out := make([]schema.Record, 0, len(recs))
	for _, rec := range recs {
		if rec.ID != id {
			out = append(out, rec)
		}
	}
	return out
}

// editRecords decodes every record selected by match as T, applies edit,
// and re-encodes it. Records that fail to decode or re-encode are kept
// unchanged.
func editRecords[T any, PT interface {
	*T
	schema.Recordable
}](recs []schema.Record, match func(*schema.Record) bool, edit func(PT)) []schema.Record {
	out := cloneRecords(recs)
	for i := range out {
		if !match(&out[i]) {
			continue
		}
		v, err := schema.Decode[T](&out[i])
		if err != nil {
			continue
		}
		edit(PT(v))
		rec, err := PT(v).ToRecord()
		if err != nil {
			continue
		}
		out[i] = rec
	}
	return out
}

func byID(id string) func(*schema.Record) bool {
	return func(rec *schema.Record) bool { return rec.ID == id }
}
