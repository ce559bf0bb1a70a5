// Package models defines the domain types shared across services, the agent
// loop, and the API layer.
package models

import (
	"crypto/rand"
	"time"
)

// idAlphabet is the base-57 alphabet used for 12-character resource ids
// (prefix letter + 11 characters). Ambiguous characters (0/O, 1/l/I) are
// excluded.
const idAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// GenerateID returns a fresh 12-character resource id with the given prefix,
// e.g. GenerateID('L') → "L7mKp2WqXbVn".
func GenerateID(prefix byte) string {
	buf := make([]byte, 11)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	id := make([]byte, 12)
	id[0] = prefix
	for i, b := range buf {
		id[i+1] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(id)
}

// LayerKind discriminates the data source behind a layer.
type LayerKind string

const (
	LayerKindVector     LayerKind = "vector"
	LayerKindRaster     LayerKind = "raster"
	LayerKindPostGIS    LayerKind = "postgis"
	LayerKindPointCloud LayerKind = "point_cloud"
)

// ForkReason records why a map snapshot was forked from its parent.
type ForkReason string

const (
	ForkReasonUserEdit ForkReason = "user_edit"
	ForkReasonAIEdit   ForkReason = "ai_edit"
)

// Project is a user-owned container of map snapshots and PostGIS connections.
type Project struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_uuid"`
	Title           string     `json:"title"`
	MapIDs          []string   `json:"maps"`
	MapDiffMessages []string   `json:"map_diff_messages"`
	CreatedOn       time.Time  `json:"created_on"`
	SoftDeletedAt   *time.Time `json:"soft_deleted_at,omitempty"`
}

// Map is one snapshot in the parent-linked map DAG. Mutations fork a child.
type Map struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"project_id"`
	OwnerID     string      `json:"owner_uuid"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	LayerIDs    []string    `json:"layers"`
	ParentMapID *string     `json:"parent_map_id,omitempty"`
	ForkReason  *ForkReason `json:"fork_reason,omitempty"`
	CreatedOn   time.Time   `json:"created_on"`
}

// Layer is a typed data source, owned by a user and attachable to many maps.
type Layer struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_uuid"`
	Name         string         `json:"name"`
	Kind         LayerKind      `json:"type"`
	StorageKey   string         `json:"path,omitempty"`
	ConnectionID *string        `json:"postgis_connection_id,omitempty"`
	PostGISQuery *string        `json:"postgis_query,omitempty"`
	Bounds       []float64      `json:"bounds,omitempty"` // WGS84 [west, south, east, north]
	GeometryType *string        `json:"geometry_type,omitempty"`
	FeatureCount *int64         `json:"feature_count,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedOn    time.Time      `json:"created_on"`
}

// Style is one versioned symbology record for a layer. Styles chain through
// ParentStyleID; the active style per (map, layer) lives in map_layer_styles.
type Style struct {
	ID            string           `json:"style_id"`
	LayerID       string           `json:"layer_id"`
	RenderLayers  []map[string]any `json:"style_json"`
	ParentStyleID *string          `json:"parent_style_id,omitempty"`
	CreatedOn     time.Time        `json:"created_on"`
}

// Conversation is a chat thread owned by a user and scoped to a project.
type Conversation struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"owner_uuid"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PGConnection is a user-supplied PostgreSQL URI scoped to a project.
type PGConnection struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	UserID        string     `json:"user_id"`
	URI           string     `json:"connection_uri"`
	FriendlyName  string     `json:"friendly_name"`
	LastErrorText *string    `json:"last_error_text,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_timestamp,omitempty"`
	SoftDeletedAt *time.Time `json:"-"`
}

// PGSummary is the AI-generated one-per-connection database description.
type PGSummary struct {
	ConnectionID string    `json:"connection_id"`
	FriendlyName string    `json:"friendly_name"`
	SummaryMD    string    `json:"summary_md"`
	TableCount   int       `json:"table_count"`
	GeneratedAt  time.Time `json:"generated_at"`
}
