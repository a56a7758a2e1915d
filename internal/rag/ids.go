package rag

import (
	"fmt"

	"github.com/google/uuid"
)

// PointID is the deterministic vector id for chunk index of a source,
// a v5 UUID over "<source>:<index>" in the URL namespace. Re-ingesting
// a source writes the same ids, so stale points are overwritten rather
// than duplicated.
func PointID(sourceID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s:%d", sourceID, index))).String()
}
