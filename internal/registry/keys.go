package registry

import "fmt"

// projectKey must match the layout store.go uses internally (spec.md §4.1
// proj/<project_id>) — both packages share one kv.Engine/bucket.
func projectKey(projectID string) []byte {
	return []byte(fmt.Sprintf("proj/%s", projectID))
}

var projectPrefix = []byte("proj/")

// apiKeyIndexKey maps a hashed API key to its owning project id so lookup
// at request time never scans the project table.
func apiKeyIndexKey(keyHash string) []byte {
	return []byte(fmt.Sprintf("apikey/%s", keyHash))
}
