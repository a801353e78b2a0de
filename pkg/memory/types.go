package memory

import "time"

// RecordType classifies a long-term memory record.
type RecordType string

const (
	TypeFact       RecordType = "fact"
	TypePreference RecordType = "preference"
	TypeTemporal   RecordType = "temporal"
	TypeTask       RecordType = "task"
	TypePersonal   RecordType = "personal"
)

// ControlledTags is the closed tag vocabulary. Tags on a record must be a
// non-empty subset of this set.
var ControlledTags = map[string]struct{}{
	"preference":   {},
	"identity":     {},
	"goal":         {},
	"skill":        {},
	"relationship": {},
	"habit":        {},
	"temporal":     {},
	"task":         {},
	"personal":     {},
	"decision":     {},
	"knowledge":    {},
}

// ValidTag reports whether tag belongs to the controlled vocabulary.
func ValidTag(tag string) bool {
	_, ok := ControlledTags[tag]
	return ok
}

// Record is one durable memory about a user. Mutated only through the
// store API.
type Record struct {
	ID             string
	UserID         string
	Type           RecordType
	Content        string
	Importance     int
	Tags           []string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int
	SoftDeleted    bool

	// seq is the sqlite rowid, used as the final retrieval tie-break so
	// identical store state always yields identical ordering.
	seq int64
}

// Seq returns the record's insertion sequence number.
func (r Record) Seq() int64 { return r.seq }

// QueryFilter narrows a ranked query.
type QueryFilter struct {
	Tags               []string
	Text               string
	Limit              int
	IncludeSoftDeleted bool
}

func validType(t RecordType) bool {
	switch t {
	case TypeFact, TypePreference, TypeTemporal, TypeTask, TypePersonal:
		return true
	}
	return false
}
