package store

import (
	"regexp"
	"time"

	"github.com/triggr/node/internal/value"
)

// collectionNamePattern is the grammar from spec.md §3: [a-z0-9_]+.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidCollectionName reports whether name matches the collection grammar.
func ValidCollectionName(name string) bool {
	return collectionNamePattern.MatchString(name)
}

// CollectionMeta is the derived record tracked per collection.
type CollectionMeta struct {
	Name        string    `json:"name"`
	Count       int64     `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// DocumentMetadata carries the versioning/timestamp invariants from
// spec.md §3: Version strictly increases, UpdatedAt >= CreatedAt.
type DocumentMetadata struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
	Tags      []string  `json:"tags,omitempty"`
}

// Document is a single document identified by (project, collection, doc_id).
type Document struct {
	Collection string           `json:"collection"`
	DocID      string           `json:"doc_id"`
	Data       value.Value      `json:"data"`
	Metadata   DocumentMetadata `json:"metadata"`
}

// ChangeOp names the kind of mutation a ChangeRecord describes.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ChangeRecord is emitted to the pub/sub bus exactly once per committed
// mutation (spec.md §4.2 Guarantees).
type ChangeRecord struct {
	ProjectID  string
	Collection string
	DocID      string
	Op         ChangeOp
	New        *Document
	Old        *Document
}

// Publisher receives committed ChangeRecords. Implemented by
// internal/pubsub.Bus; the store depends on this narrow interface rather
// than the concrete bus so C2 stays testable without C8 wired in.
type Publisher interface {
	PublishChange(rec ChangeRecord)
}
