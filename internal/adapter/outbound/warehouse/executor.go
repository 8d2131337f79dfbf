// Package warehouse holds the executor port for warehouse_execute_query
// and its stub implementation. The real BigQuery/Snowflake drivers live
// behind this interface in the platform deployments.
package warehouse

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured means no warehouse backend is wired.
var ErrNotConfigured = errors.New("warehouse is not configured")

// ResultSet is the tabular outcome of one query.
type ResultSet struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"`
}

// Executor runs an admitted, validated query against the configured
// warehouse backend.
type Executor interface {
	// Execute runs the query, returning at most maxRows rows.
	Execute(ctx context.Context, sql string, maxRows int) (*ResultSet, error)

	// Platform names the backend ("bigquery", "snowflake") or "" when
	// unconfigured.
	Platform() string
}

// Unconfigured is the stub bound when `warehouse.platform` is empty.
// Every query fails with ErrNotConfigured; the handler surfaces it as
// an in-protocol error result.
type Unconfigured struct{}

var _ Executor = Unconfigured{}

func (Unconfigured) Execute(context.Context, string, int) (*ResultSet, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) Platform() string { return "" }

// NewExecutor resolves the configured platform. Platforms without an
// in-tree driver fail at startup rather than at first query.
func NewExecutor(platform, _ string) (Executor, error) {
	switch platform {
	case "":
		return Unconfigured{}, nil
	case "bigquery", "snowflake":
		return nil, fmt.Errorf("warehouse platform %q requires the enterprise driver build", platform)
	default:
		return nil, fmt.Errorf("unknown warehouse platform %q", platform)
	}
}
