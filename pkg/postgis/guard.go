package postgis

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// explainPlan mirrors the shape of one node of EXPLAIN (FORMAT JSON) output.
type explainPlan struct {
	NodeType string        `json:"Node Type"`
	Plans    []explainPlan `json:"Plans"`
}

// VerifyReadOnlyPlan parses EXPLAIN (FORMAT JSON) output and rejects plans
// containing a ModifyTable node anywhere in the tree.
func VerifyReadOnlyPlan(explainJSON []byte) error {
	var root []struct {
		Plan explainPlan `json:"Plan"`
	}
	if err := json.Unmarshal(explainJSON, &root); err != nil {
		return fmt.Errorf("failed to parse query plan: %w", err)
	}
	if len(root) == 0 {
		return fmt.Errorf("empty query plan")
	}
	for _, r := range root {
		if err := walkPlan(r.Plan); err != nil {
			return err
		}
	}
	return nil
}

func walkPlan(p explainPlan) error {
	if p.NodeType == "ModifyTable" {
		return fmt.Errorf("query plan modifies the database; only read-only queries are allowed")
	}
	for _, child := range p.Plans {
		if err := walkPlan(child); err != nil {
			return err
		}
	}
	return nil
}

// limitPattern extracts the numeric argument of the last LIMIT clause.
var limitPattern = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)

// MaxQueryLimit bounds the LIMIT a tool-issued PostgreSQL query may carry.
const MaxQueryLimit = 1000

// EnforceLimit requires the query to contain LIMIT n with n <= MaxQueryLimit.
// This is a syntactic check; the read-only session is the hard guarantee.
func EnforceLimit(query string) error {
	matches := limitPattern.FindAllStringSubmatch(query, -1)
	if len(matches) == 0 {
		return fmt.Errorf("query must contain a LIMIT clause (max %d rows)", MaxQueryLimit)
	}
	last := matches[len(matches)-1]
	n, err := strconv.Atoi(last[1])
	if err != nil {
		return fmt.Errorf("invalid LIMIT value %q", last[1])
	}
	if n > MaxQueryLimit {
		return fmt.Errorf("LIMIT %d exceeds the maximum of %d rows", n, MaxQueryLimit)
	}
	return nil
}
