package router

import "fmt"

// Key layout matches internal/store's tkey/<project>/<trigger> family
// (spec.md §4.1) — both packages share one kv.Engine/bucket, and
// store.DeleteProjectData's triggerPrefix cascade relies on this exact
// format.
func triggerKey(projectID, triggerID string) []byte {
	return []byte(fmt.Sprintf("tkey/%s/%s", projectID, triggerID))
}

func triggerPrefix(projectID string) []byte {
	return []byte(fmt.Sprintf("tkey/%s/", projectID))
}

var allTriggersPrefix = []byte("tkey/")
