package store

import "fmt"

// Key layout per spec.md §4.1. All four families share one bbolt bucket
// (internal/kv) and sort lexicographically by these byte prefixes.

func projectKey(projectID string) []byte {
	return []byte(fmt.Sprintf("proj/%s", projectID))
}

func triggerKey(projectID, triggerID string) []byte {
	return []byte(fmt.Sprintf("tkey/%s/%s", projectID, triggerID))
}

func triggerPrefix(projectID string) []byte {
	return []byte(fmt.Sprintf("tkey/%s/", projectID))
}

func collectionMetaKey(projectID, collection string) []byte {
	return []byte(fmt.Sprintf("coll/%s/%s/meta", projectID, collection))
}

func collectionPrefix(projectID string) []byte {
	return []byte(fmt.Sprintf("coll/%s/", projectID))
}

func documentKey(projectID, collection, docID string) []byte {
	return []byte(fmt.Sprintf("doc/%s/%s/%s", projectID, collection, docID))
}

func documentPrefix(projectID, collection string) []byte {
	return []byte(fmt.Sprintf("doc/%s/%s/", projectID, collection))
}

func projectDataPrefixes(projectID string) [][]byte {
	return [][]byte{
		triggerPrefix(projectID),
		collectionPrefix(projectID),
		[]byte(fmt.Sprintf("doc/%s/", projectID)),
	}
}
