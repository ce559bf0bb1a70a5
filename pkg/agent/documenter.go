package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/buntinglabs/mundi/pkg/lock"
	"github.com/buntinglabs/mundi/pkg/models"
	"github.com/buntinglabs/mundi/pkg/postgis"
	"github.com/buntinglabs/mundi/pkg/services"
)

// Documenter generates the per-connection database summary the map-state
// system message embeds: table schemas are sampled from the user database
// and condensed into markdown by the LLM.
type Documenter struct {
	Connections *services.ConnectionService
	PostGIS     *postgis.Manager
	LLM         Completer
	Coord       *lock.Coordinator
}

// maxDocumentedTables bounds how many tables one run describes.
const maxDocumentedTables = 50

// Run documents one connection. Progress is published to Redis so the
// frontend can poll it while the run is in flight.
func (d *Documenter) Run(ctx context.Context, connectionID, userID string) error {
	rec, err := d.Connections.Get(ctx, connectionID, userID)
	if err != nil {
		return err
	}

	session, err := d.PostGIS.Connect(ctx, connectionID, userID)
	if err != nil {
		return fmt.Errorf("failed to connect for documentation: %w", err)
	}
	defer session.Release(ctx)
	conn := session.Conn()

	rows, err := conn.Query(ctx,
		`SELECT table_schema, table_name FROM information_schema.tables
		 WHERE table_type = 'BASE TABLE'
		   AND table_schema NOT IN ('pg_catalog', 'information_schema')
		 ORDER BY table_schema, table_name
		 LIMIT $1`, maxDocumentedTables)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	type table struct{ schema, name string }
	var tables []table
	for rows.Next() {
		var t table
		if err := rows.Scan(&t.schema, &t.name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan table list: %w", err)
		}
		tables = append(tables, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}

	var schemaDump strings.Builder
	for i, t := range tables {
		if err := d.Coord.SetDocumenterProgress(ctx, connectionID, i, len(tables)); err != nil {
			slog.Warn("Failed to record documenter progress", "connection_id", connectionID, "error", err)
		}

		cols, err := describeTable(ctx, conn, t.schema, t.name)
		if err != nil {
			slog.Warn("Failed to describe table", "table", t.schema+"."+t.name, "error", err)
			continue
		}
		fmt.Fprintf(&schemaDump, "%s.%s: %s\n", t.schema, t.name, cols)
	}
	if err := d.Coord.SetDocumenterProgress(ctx, connectionID, len(tables), len(tables)); err != nil {
		slog.Warn("Failed to record documenter progress", "connection_id", connectionID, "error", err)
	}

	summary, err := d.LLM.Complete(ctx,
		"Summarize this PostGIS database schema as concise markdown for a GIS assistant. "+
			"Highlight spatial tables, their geometry columns, and likely join keys.",
		schemaDump.String())
	if err != nil {
		return fmt.Errorf("failed to summarize schema: %w", err)
	}

	return d.Connections.SaveSummary(ctx, &models.PGSummary{
		ConnectionID: connectionID,
		FriendlyName: rec.FriendlyName,
		SummaryMD:    summary,
		TableCount:   len(tables),
	})
}

// describeTable renders a table's columns as "name type, name type, ...".
func describeTable(ctx context.Context, conn *pgx.Conn, schema, name string) (string, error) {
	rows, err := conn.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`, schema, name)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var col, typ string
		if err := rows.Scan(&col, &typ); err != nil {
			return "", err
		}
		cols = append(cols, col+" "+typ)
	}
	return strings.Join(cols, ", "), rows.Err()
}
