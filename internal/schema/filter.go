package schema

import (
	"encoding/json"
	"net/url"
	"strings"
)

// searchFields are the JSON fields matched by Filter.Search.
var searchFields = []string{"title", "name", "description", "note"}

// Filter is the set of list parameters shared by the network endpoints and
// the cache. Matching in the cache must mirror the server: exact status,
// assignee and project, plus a case-insensitive substring search.
type Filter struct {
	Status    string `json:"status,omitempty" yaml:"status,omitempty"`
	Assignee  string `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	ProjectID string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Search    string `json:"search,omitempty" yaml:"search,omitempty"`
}

// IsZero reports whether the filter selects everything.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// String returns a stable representation used in cache keys.
func (f Filter) String() string {
	return f.Values().Encode()
}

// Values encodes the filter as query parameters.
func (f Filter) Values() url.Values {
	v := url.Values{}
	if f.Status != "" {
		v.Set("status", f.Status)
	}
	if f.Assignee != "" {
		v.Set("assignee", f.Assignee)
	}
	if f.ProjectID != "" {
		v.Set("project_id", f.ProjectID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		v.Set("search", s)
	}
	return v
}

// IndexQuery picks the most selective secondary index for the filter:
// project, then assignee, then status. Remaining conditions are applied by Match.
func (f Filter) IndexQuery() IndexQuery {
	switch {
	case f.ProjectID != "":
		return ByProject(f.ProjectID)
	case f.Assignee != "":
		return ByAssignee(f.Assignee)
	case f.Status != "":
		return ByStatus(f.Status)
	default:
		return IndexQuery{}
	}
}

// Match reports whether a cached record satisfies the filter.
func (f Filter) Match(rec *Record) bool {
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if f.Assignee != "" && rec.Assignee != f.Assignee {
		return false
	}
	if f.ProjectID != "" && rec.ProjectID != f.ProjectID {
		return false
	}
	needle := strings.ToLower(strings.TrimSpace(f.Search))
	if needle == "" {
		return true
	}
	return containsFold(rec.Data, needle)
}

func containsFold(data json.RawMessage, needle string) bool {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	for _, name := range searchFields {
		s, ok := fields[name].(string)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}
