package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/buntinglabs/mundi/pkg/models"
	"github.com/buntinglabs/mundi/pkg/postgis"
	"github.com/buntinglabs/mundi/pkg/vectorquery"
)

func (d *Deps) queryDuckDBTool() *Tool {
	return &Tool{
		Name: "query_duckdb_sql",
		Description: "Run read-only SQL over one vector layer's data. Reference the layer " +
			"by using its layer id as the table name.",
		EphemeralLabel: "Querying layer data...",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"layer_id": map[string]any{
					"type":    "string",
					"pattern": "^L[2-9A-HJ-NP-Za-km-z]{11}$",
				},
				"sql_query": map[string]any{
					"type":        "string",
					"description": "SQL using the layer id as the table name",
				},
				"head_n_rows": map[string]any{
					"type":        "integer",
					"description": "Maximum number of rows to return",
					"minimum":     1,
				},
			},
			"required":             []any{"layer_id", "sql_query"},
			"additionalProperties": false,
		},
		Handler: d.handleQueryDuckDB,
	}
}

func (d *Deps) handleQueryDuckDB(ctx context.Context, call *Call) (map[string]any, error) {
	layerID := call.Args["layer_id"].(string)
	sqlQuery := call.Args["sql_query"].(string)
	headN := 0
	if v, ok := call.Args["head_n_rows"].(float64); ok {
		headN = int(v)
	}

	layer, err := d.Layers.GetLayer(ctx, layerID, call.UserID)
	if err != nil {
		return nil, recoverableServiceError(err, "layer "+layerID)
	}
	if layer.StorageKey == "" || layer.Kind == models.LayerKindPostGIS {
		return nil, Recoverablef("layer %s has no cached vector file; use query_postgis_database for PostGIS layers", layerID)
	}

	result, err := d.Vector.Query(ctx, layer.ID, layer.StorageKey, sqlQuery, headN)
	if err != nil {
		return nil, Recoverablef("%v", err)
	}
	csv, err := result.CSV()
	if err != nil {
		return nil, Recoverablef("%v", err)
	}

	return map[string]any{
		"result_csv": csv,
		"row_count":  len(result.Rows),
	}, nil
}

func (d *Deps) queryPostGISTool(connections []*models.PGConnection) *Tool {
	return &Tool{
		Name: "query_postgis_database",
		Description: "Run read-only SQL against a connected PostGIS database. The query " +
			fmt.Sprintf("must contain a LIMIT clause of at most %d rows.", postgis.MaxQueryLimit),
		EphemeralLabel: "Querying PostgreSQL database...",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"postgresql_connection_id": map[string]any{
					"type": "string",
					"enum": connectionIDs(connections),
				},
				"query": map[string]any{
					"type": "string",
				},
			},
			"required":             []any{"postgresql_connection_id", "query"},
			"additionalProperties": false,
		},
		Handler: d.handleQueryPostGIS,
	}
}

func (d *Deps) handleQueryPostGIS(ctx context.Context, call *Call) (map[string]any, error) {
	connectionID := call.Args["postgresql_connection_id"].(string)
	query := call.Args["query"].(string)

	if err := postgis.EnforceLimit(query); err != nil {
		return nil, Recoverablef("%v", err)
	}

	session, err := d.PostGIS.Connect(ctx, connectionID, call.UserID)
	if err != nil {
		return nil, Recoverablef("could not connect to the database: %v", err)
	}
	defer session.Release(ctx)

	rows, err := session.Conn().Query(ctx, query)
	if err != nil {
		return nil, Recoverablef("query failed: %v", err)
	}
	defer rows.Close()

	var sb strings.Builder
	fields := rows.FieldDescriptions()
	headers := make([]string, len(fields))
	for i, f := range fields {
		headers[i] = f.Name
	}
	sb.WriteString(strings.Join(headers, "\t"))
	sb.WriteByte('\n')

	rowCount := 0
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, Recoverablef("failed to read query results: %v", err)
		}
		cells := make([]string, len(values))
		for i, v := range values {
			if v == nil {
				continue
			}
			cells[i] = fmt.Sprintf("%v", v)
		}
		sb.WriteString(strings.Join(cells, "\t"))
		sb.WriteByte('\n')
		rowCount++

		if sb.Len() > vectorquery.MaxResultChars {
			return nil, Recoverablef("result exceeds the %d character limit; narrow the query", vectorquery.MaxResultChars)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, Recoverablef("query failed: %v", err)
	}

	return map[string]any{
		"result_tsv": sb.String(),
		"row_count":  rowCount,
	}, nil
}
