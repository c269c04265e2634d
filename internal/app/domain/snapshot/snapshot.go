// Package snapshot defines the Snapshot entity: immutable captured state of
// a model and its traffic allocation, used as a rollback target.
package snapshot

import "time"

// Snapshot is the captured state described in spec §3/§4.7. Immutable once
// created.
type Snapshot struct {
	ID               string
	ModelID          string
	Config           map[string]interface{}
	Metrics          map[string]interface{}
	TrafficPercent   int
	ArtifactLocation string
	CreatedAt        time.Time
}
