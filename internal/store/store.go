// Package store implements the Document Store (C2): collections,
// documents, and metadata layered over the embedded KV engine, with
// per-project isolation and one ChangeRecord published per committed
// mutation (spec.md §4.2).
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/triggr/node/internal/apierr"
	"github.com/triggr/node/internal/kv"
	"github.com/triggr/node/internal/value"
)

// Store is the Document Store. One Store instance serves every project;
// callers always pass the project id resolved from the authenticated
// caller, never trust a caller-supplied project id directly.
type Store struct {
	engine *kv.Engine
	locks  *keyLocks
	pub    Publisher
	now    func() time.Time
}

// New constructs a Store. pub may be nil in tests that don't care about
// fan-out; in production it is the pub/sub bus.
func New(engine *kv.Engine, pub Publisher) *Store {
	return &Store{engine: engine, locks: newKeyLocks(), pub: pub, now: time.Now}
}

func (s *Store) docLockKey(projectID, collection, docID string) string {
	return projectID + "/" + collection + "/" + docID
}

// CreateCollection idempotently creates a CollectionMeta if absent.
func (s *Store) CreateCollection(projectID, name string) (CollectionMeta, error) {
	if !ValidCollectionName(name) {
		return CollectionMeta{}, apierr.Validation("invalid collection name %q", name)
	}
	key := collectionMetaKey(projectID, name)
	if existing, ok, err := s.readCollectionMeta(key); err != nil {
		return CollectionMeta{}, err
	} else if ok {
		return existing, nil
	}
	meta := CollectionMeta{Name: name, Count: 0, LastUpdated: s.now().UTC()}
	if err := s.putCollectionMeta(key, meta); err != nil {
		return CollectionMeta{}, err
	}
	return meta, nil
}

// ListCollections scans coll/<project>/... and returns every CollectionMeta.
func (s *Store) ListCollections(projectID string) ([]CollectionMeta, error) {
	entries, err := s.engine.ScanPrefix(collectionPrefix(projectID))
	if err != nil {
		return nil, err
	}
	out := make([]CollectionMeta, 0, len(entries))
	for _, e := range entries {
		payload, err := kv.UnwrapRecord(e.Value)
		if err != nil {
			return nil, err
		}
		var meta CollectionMeta
		if err := json.Unmarshal(payload, &meta); err != nil {
			return nil, apierr.Wrap(apierr.CodeStorage, "decode collection meta", err)
		}
		out = append(out, meta)
	}
	return out, nil
}

func (s *Store) readCollectionMeta(key []byte) (CollectionMeta, bool, error) {
	raw, err := s.engine.Get(key)
	if err != nil {
		if svcErr, ok := apierr.As(err); ok && svcErr.Code == apierr.CodeNotFound {
			return CollectionMeta{}, false, nil
		}
		return CollectionMeta{}, false, err
	}
	payload, err := kv.UnwrapRecord(raw)
	if err != nil {
		return CollectionMeta{}, false, err
	}
	var meta CollectionMeta
	if err := json.Unmarshal(payload, &meta); err != nil {
		return CollectionMeta{}, false, apierr.Wrap(apierr.CodeStorage, "decode collection meta", err)
	}
	return meta, true, nil
}

func (s *Store) putCollectionMeta(key []byte, meta CollectionMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorage, "encode collection meta", err)
	}
	return s.engine.Put(key, kv.WrapRecord(raw))
}

func (s *Store) readDocument(projectID, collection, docID string) (Document, bool, error) {
	raw, err := s.engine.Get(documentKey(projectID, collection, docID))
	if err != nil {
		if svcErr, ok := apierr.As(err); ok && svcErr.Code == apierr.CodeNotFound {
			return Document{}, false, nil
		}
		return Document{}, false, err
	}
	payload, err := kv.UnwrapRecord(raw)
	if err != nil {
		return Document{}, false, err
	}
	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Document{}, false, apierr.Wrap(apierr.CodeStorage, "decode document", err)
	}
	return doc, true, nil
}

// GetDoc fetches a single document, apierr.CodeNotFound if absent.
func (s *Store) GetDoc(projectID, collection, docID string) (Document, error) {
	doc, ok, err := s.readDocument(projectID, collection, docID)
	if err != nil {
		return Document{}, err
	}
	if !ok {
		return Document{}, apierr.NotFound("document %s/%s/%s", projectID, collection, docID)
	}
	return doc, nil
}

// ListDocs returns every document in a collection, in key order.
func (s *Store) ListDocs(projectID, collection string) ([]Document, error) {
	entries, err := s.engine.ScanPrefix(documentPrefix(projectID, collection))
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(entries))
	for _, e := range entries {
		payload, err := kv.UnwrapRecord(e.Value)
		if err != nil {
			return nil, err
		}
		var doc Document
		if err := json.Unmarshal(payload, &doc); err != nil {
			return nil, apierr.Wrap(apierr.CodeStorage, "decode document", err)
		}
		out = append(out, doc)
	}
	return out, nil
}

// InsertDoc creates a new document, generating a UUID doc_id if none was
// supplied, and fails with Conflict if the id already exists.
func (s *Store) InsertDoc(projectID, collection string, docID string, data value.Value) (Document, error) {
	if !ValidCollectionName(collection) {
		return Document{}, apierr.Validation("invalid collection name %q", collection)
	}
	if docID == "" {
		docID = uuid.NewString()
	}

	unlock := s.locks.Lock(s.docLockKey(projectID, collection, docID))
	defer unlock()

	_, exists, err := s.readDocument(projectID, collection, docID)
	if err != nil {
		return Document{}, err
	}
	if exists {
		return Document{}, apierr.Conflict("document %s already exists in %s", docID, collection)
	}

	now := s.now().UTC()
	doc := Document{
		Collection: collection,
		DocID:      docID,
		Data:       data,
		Metadata: DocumentMetadata{
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		},
	}

	if err := s.commitDocWithCollectionDelta(projectID, doc, +1, now); err != nil {
		return Document{}, err
	}
	s.publish(ChangeRecord{ProjectID: projectID, Collection: collection, DocID: docID, Op: OpInsert, New: &doc})
	return doc, nil
}

// PutDoc upserts: create on first write (version 1), replace (preserving
// CreatedAt, bumping version) on subsequent writes.
func (s *Store) PutDoc(projectID, collection, docID string, data value.Value) (Document, error) {
	if !ValidCollectionName(collection) {
		return Document{}, apierr.Validation("invalid collection name %q", collection)
	}
	if docID == "" {
		docID = uuid.NewString()
	}

	unlock := s.locks.Lock(s.docLockKey(projectID, collection, docID))
	defer unlock()

	existing, existed, err := s.readDocument(projectID, collection, docID)
	if err != nil {
		return Document{}, err
	}

	now := s.now().UTC()
	var doc Document
	var old *Document
	var op ChangeOp
	var delta int64

	if existed {
		old = &existing
		op = OpUpdate
		delta = 0
		doc = Document{
			Collection: collection,
			DocID:      docID,
			Data:       data,
			Metadata: DocumentMetadata{
				CreatedAt: existing.Metadata.CreatedAt,
				UpdatedAt: now,
				Version:   existing.Metadata.Version + 1,
				Tags:      existing.Metadata.Tags,
			},
		}
	} else {
		op = OpInsert
		delta = +1
		doc = Document{
			Collection: collection,
			DocID:      docID,
			Data:       data,
			Metadata: DocumentMetadata{
				CreatedAt: now,
				UpdatedAt: now,
				Version:   1,
			},
		}
	}

	if err := s.commitDocWithCollectionDelta(projectID, doc, delta, now); err != nil {
		return Document{}, err
	}
	s.publish(ChangeRecord{ProjectID: projectID, Collection: collection, DocID: docID, Op: op, New: &doc, Old: old})
	return doc, nil
}

// PatchDoc shallow-merges data into the existing document; NotFound if
// absent.
func (s *Store) PatchDoc(projectID, collection, docID string, patch value.Value) (Document, error) {
	unlock := s.locks.Lock(s.docLockKey(projectID, collection, docID))
	defer unlock()

	existing, ok, err := s.readDocument(projectID, collection, docID)
	if err != nil {
		return Document{}, err
	}
	if !ok {
		return Document{}, apierr.NotFound("document %s/%s/%s", projectID, collection, docID)
	}

	now := s.now().UTC()
	merged := value.Merge(existing.Data, patch)
	doc := Document{
		Collection: collection,
		DocID:      docID,
		Data:       merged,
		Metadata: DocumentMetadata{
			CreatedAt: existing.Metadata.CreatedAt,
			UpdatedAt: now,
			Version:   existing.Metadata.Version + 1,
			Tags:      existing.Metadata.Tags,
		},
	}

	if err := s.commitDocWithCollectionDelta(projectID, doc, 0, now); err != nil {
		return Document{}, err
	}
	old := existing
	s.publish(ChangeRecord{ProjectID: projectID, Collection: collection, DocID: docID, Op: OpUpdate, New: &doc, Old: &old})
	return doc, nil
}

// DeleteDoc removes a document, decrementing the collection count (never
// below zero). NotFound if absent.
func (s *Store) DeleteDoc(projectID, collection, docID string) error {
	unlock := s.locks.Lock(s.docLockKey(projectID, collection, docID))
	defer unlock()

	existing, ok, err := s.readDocument(projectID, collection, docID)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.NotFound("document %s/%s/%s", projectID, collection, docID)
	}

	now := s.now().UTC()
	metaKey := collectionMetaKey(projectID, collection)
	meta, metaOK, err := s.readCollectionMeta(metaKey)
	if err != nil {
		return err
	}
	if !metaOK {
		meta = CollectionMeta{Name: collection}
	}
	meta.Count--
	if meta.Count < 0 {
		meta.Count = 0
	}
	meta.LastUpdated = now

	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorage, "encode collection meta", err)
	}

	if err := s.engine.Batch([]kv.Op{
		{Kind: kv.OpDelete, Key: documentKey(projectID, collection, docID)},
		{Kind: kv.OpPut, Key: metaKey, Value: kv.WrapRecord(metaRaw)},
	}); err != nil {
		return err
	}

	old := existing
	s.publish(ChangeRecord{ProjectID: projectID, Collection: collection, DocID: docID, Op: OpDelete, Old: &old})
	return nil
}

// commitDocWithCollectionDelta writes the document and applies delta to the
// collection's count in one atomic batch (spec.md §4.2).
func (s *Store) commitDocWithCollectionDelta(projectID string, doc Document, delta int64, now time.Time) error {
	metaKey := collectionMetaKey(projectID, doc.Collection)
	meta, ok, err := s.readCollectionMeta(metaKey)
	if err != nil {
		return err
	}
	if !ok {
		meta = CollectionMeta{Name: doc.Collection}
	}
	meta.Count += delta
	if meta.Count < 0 {
		meta.Count = 0
	}
	meta.LastUpdated = now

	docRaw, err := json.Marshal(doc)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorage, "encode document", err)
	}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorage, "encode collection meta", err)
	}

	return s.engine.Batch([]kv.Op{
		{Kind: kv.OpPut, Key: documentKey(projectID, doc.Collection, doc.DocID), Value: kv.WrapRecord(docRaw)},
		{Kind: kv.OpPut, Key: metaKey, Value: kv.WrapRecord(metaRaw)},
	})
}

func (s *Store) publish(rec ChangeRecord) {
	if s.pub == nil {
		return
	}
	s.pub.PublishChange(rec)
}

// DeleteProjectData removes every collection/document/trigger key for a
// project, used by cascading project deletion (C3).
func (s *Store) DeleteProjectData(projectID string) error {
	var ops []kv.Op
	for _, prefix := range projectDataPrefixes(projectID) {
		entries, err := s.engine.ScanPrefix(prefix)
		if err != nil {
			return err
		}
		for _, e := range entries {
			ops = append(ops, kv.Op{Kind: kv.OpDelete, Key: e.Key})
		}
	}
	ops = append(ops, kv.Op{Kind: kv.OpDelete, Key: projectKey(projectID)})
	if len(ops) == 0 {
		return nil
	}
	return s.engine.Batch(ops)
}
