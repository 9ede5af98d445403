package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Collection names a cached collection of records.
type Collection string

const (
	CollectionTasks       Collection = "tasks"
	CollectionProjects    Collection = "projects"
	CollectionUsers       Collection = "users"
	CollectionTimeEntries Collection = "time_entries"
)

// Collections lists every collection the cache knows about.
var Collections = []Collection{
	CollectionTasks,
	CollectionProjects,
	CollectionUsers,
	CollectionTimeEntries,
}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

// Record is one cached entity: the last-known-good server JSON plus the
// index columns extracted from it.
type Record struct {
	Collection Collection      `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`

	// Secondary index columns (empty when the entity has no such field)
	ProjectID string `json:"project_id,omitempty"`
	Assignee  string `json:"assignee,omitempty"`
	Status    string `json:"status,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields every record needs before it can be cached.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !r.Collection.Valid() {
		return fmt.Errorf("unknown collection %q", r.Collection)
	}
	if len(r.Data) == 0 {
		return fmt.Errorf("data is required")
	}
	if !json.Valid(r.Data) {
		return fmt.Errorf("data for %s/%s is not valid JSON", r.Collection, r.ID)
	}
	return nil
}

// Recordable is implemented by every typed entity that can be cached.
type Recordable interface {
	ToRecord() (Record, error)
}

// Decode unmarshals a record's verbatim data into a typed entity.
func Decode[T any](rec *Record) (*T, error) {
	if rec == nil {
		return nil, fmt.Errorf("record is nil")
	}
	var v T
	if err := json.Unmarshal(rec.Data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", rec.Collection, rec.ID, err)
	}
	return &v, nil
}

// DecodeAll decodes a slice of records, stopping at the first failure.
func DecodeAll[T any](recs []Record) ([]*T, error) {
	out := make([]*T, 0, len(recs))
	for i := range recs {
		v, err := Decode[T](&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ToRecords converts typed entities to records.
func ToRecords[T Recordable](items []T) ([]Record, error) {
	recs := make([]Record, 0, len(items))
	for _, item := range items {
		rec, err := item.ToRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// recordKeys are the server fields lifted into a record's index columns.
type recordKeys struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Assignee  string          `json:"assignee"`
	OwnerID   string          `json:"owner_id"`
	UserID    string          `json:"user_id"`
	Status    string          `json:"status"`
	StoppedAt json.RawMessage `json:"stopped_at"`
	UpdatedAt string          `json:"updated_at"`
}

// RecordFromJSON builds a record from one server item, keeping raw as the
// record data byte for byte. Only the id is required; every other field is
// whatever the server sent.
func RecordFromJSON(c Collection, raw json.RawMessage) (Record, error) {
	if !c.Valid() {
		return Record{}, fmt.Errorf("unknown collection %q", c)
	}
	var k recordKeys
	if err := json.Unmarshal(raw, &k); err != nil {
		return Record{}, fmt.Errorf("invalid %s item: %w", c, err)
	}
	if k.ID == "" {
		return Record{}, fmt.Errorf("invalid %s item: id is required", c)
	}

	rec := Record{
		Collection: c,
		ID:         k.ID,
		Data:       append(json.RawMessage(nil), raw...),
	}
	if k.UpdatedAt != "" {
		if at, err := time.Parse(time.RFC3339Nano, k.UpdatedAt); err == nil {
			rec.UpdatedAt = at
		}
	}

	switch c {
	case CollectionTasks:
		rec.ProjectID, rec.Assignee, rec.Status = k.ProjectID, k.Assignee, k.Status
	case CollectionProjects:
		rec.ProjectID, rec.Assignee, rec.Status = k.ID, k.OwnerID, k.Status
	case CollectionTimeEntries:
		rec.ProjectID, rec.Assignee, rec.Status = k.ProjectID, k.UserID, "stopped"
		if len(k.StoppedAt) == 0 || string(k.StoppedAt) == "null" {
			rec.Status = "running"
		}
	}
	return rec, nil
}

// RecordsFromJSON builds records from a list response.
func RecordsFromJSON(c Collection, items []json.RawMessage) ([]Record, error) {
	recs := make([]Record, 0, len(items))
	for _, raw := range items {
		rec, err := RecordFromJSON(c, raw)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Index names a secondary index of the record table.
type Index string

const (
	IndexNone     Index = ""
	IndexProject  Index = "project_id"
	IndexAssignee Index = "assignee"
	IndexStatus   Index = "status"
)

// IndexQuery selects records through one secondary index.
// The zero value selects the whole collection.
type IndexQuery struct {
	Index Index
	Value string
}

// ByProject selects records owned by a project.
func ByProject(projectID string) IndexQuery {
	return IndexQuery{Index: IndexProject, Value: projectID}
}

// ByAssignee selects records assigned to a user.
func ByAssignee(userID string) IndexQuery {
	return IndexQuery{Index: IndexAssignee, Value: userID}
}

// ByStatus selects records in a status.
func ByStatus(status string) IndexQuery {
	return IndexQuery{Index: IndexStatus, Value: status}
}

func marshalRecord(c Collection, id string, v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s/%s: %w", c, id, err)
	}
	return data, nil
}
