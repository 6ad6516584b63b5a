package pgscope

// ListTablesInput is the input for the ListTables tool.
type ListTablesInput struct {
	Schema string `json:"schema"`
}

// TableEntry represents a single table/view in the ListTables output.
type TableEntry struct {
	Name  string `json:"name"`
	Type  string `json:"type"` // "table", "view", "materialized_view", "foreign_table", "partitioned_table"
	Owner string `json:"owner"`
}

// ListTablesOutput is the output of the ListTables tool.
type ListTablesOutput struct {
	Schema string       `json:"schema"`
	Tables []TableEntry `json:"tables"`
	Count  int          `json:"count"`
}

// DescribeTableInput is the input for the DescribeTable tool.
type DescribeTableInput struct {
	Table  string `json:"table"`
	Schema string `json:"schema"`
}

// ColumnInfo describes a single column, in declaration order.
type ColumnInfo struct {
	Name             string  `json:"name"`
	Type             string  `json:"type"`
	Nullable         bool    `json:"nullable"`
	Default          *string `json:"default"`
	Position         int     `json:"position"`
	IsPrimaryKey     bool    `json:"is_primary_key"`
	MaxLength        *int    `json:"max_length,omitempty"`
	NumericPrecision *int    `json:"numeric_precision,omitempty"`
	NumericScale     *int    `json:"numeric_scale,omitempty"`
}

// IndexInfo describes a single index.
type IndexInfo struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
	IsUnique   bool   `json:"is_unique"`
	IsPrimary  bool   `json:"is_primary"`
}

// ConstraintInfo describes a single constraint.
type ConstraintInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"` // PRIMARY KEY, FOREIGN KEY, UNIQUE, CHECK, EXCLUDE
	Definition string `json:"definition"`
}

// ForeignKeyInfo describes a single foreign key.
type ForeignKeyInfo struct {
	Name              string `json:"name"`
	Columns           string `json:"columns"`
	ReferencedTable   string `json:"referenced_table"`
	ReferencedColumns string `json:"referenced_columns"`
	OnUpdate          string `json:"on_update"`
	OnDelete          string `json:"on_delete"`
}

// PartitionInfo describes partition metadata.
type PartitionInfo struct {
	Strategy     string   `json:"strategy,omitempty"`      // "range", "list", "hash"
	PartitionKey string   `json:"partition_key,omitempty"` // e.g. "created_at", "region"
	Partitions   []string `json:"partitions,omitempty"`    // child partition table names
	ParentTable  string   `json:"parent_table,omitempty"`  // set if this is a child partition
}

// DescribeTableOutput is the output of the DescribeTable tool.
type DescribeTableOutput struct {
	Schema      string           `json:"schema"`
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	Definition  string           `json:"definition,omitempty"` // view/matview SQL definition
	Columns     []ColumnInfo     `json:"columns"`
	Indexes     []IndexInfo      `json:"indexes"`
	Constraints []ConstraintInfo `json:"constraints"`
	ForeignKeys []ForeignKeyInfo `json:"foreign_keys"`
	Partition   *PartitionInfo   `json:"partition,omitempty"`
}

// ReadTableInput is the input for the ReadTable tool. A nil Limit means the
// configured default.
type ReadTableInput struct {
	Table  string `json:"table"`
	Schema string `json:"schema"`
	Limit  *int   `json:"limit,omitempty"`
	Offset int    `json:"offset"`
}

// ExecuteQueryInput is the input for the ExecuteQuery tool.
type ExecuteQueryInput struct {
	SQL        string `json:"sql"`
	Limit      *int   `json:"limit,omitempty"`
	CountTotal bool   `json:"count_total"`
}

// ResultSet is the uniform shape of row-returning operations.
//
// ReturnedRows <= Limit, and ReturnedRows <= max(0, TotalRows-Offset) when
// TotalRows is known. TotalRows is only set when a separate count(*) ran.
// Limit is nil when the statement's own LIMIT governed the result.
type ResultSet struct {
	Columns      []string         `json:"columns"`
	TotalRows    *int64           `json:"total_rows"`
	ReturnedRows int              `json:"returned_rows"`
	Rows         []map[string]any `json:"rows"`
	Limit        *int             `json:"limit"`
	Offset       int              `json:"offset"`
	Truncated    bool             `json:"truncated,omitempty"`
}

// ReadTableOutput is the output of the ReadTable tool.
type ReadTableOutput struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
	ResultSet
}

// ExecuteQueryOutput is the output of the ExecuteQuery tool. SQL is the
// statement actually sent to the server, after rewriting.
type ExecuteQueryOutput struct {
	SQL          string `json:"sql"`
	LimitApplied bool   `json:"limit_applied"`
	ResultSet
}

// TableStatsInput is the input for the GetTableStats tool.
type TableStatsInput struct {
	Table  string `json:"table"`
	Schema string `json:"schema"`
}

// TypeCount is one bucket of the column type histogram.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// TableStatsOutput is the output of the GetTableStats tool. Size fields are
// nil for relations without storage (views).
type TableStatsOutput struct {
	Schema          string      `json:"schema"`
	Table           string      `json:"table"`
	Type            string      `json:"type"`
	RowCount        int64       `json:"row_count"`
	ColumnCount     int         `json:"column_count"`
	ColumnTypes     []TypeCount `json:"column_types"`
	TotalBytes      *int64      `json:"total_bytes"`
	TableBytes      *int64      `json:"table_bytes"`
	IndexesBytes    *int64      `json:"indexes_bytes"`
	TotalSizePretty *string     `json:"total_size"`
	TableSizePretty *string     `json:"table_size"`
	IndexSizePretty *string     `json:"indexes_size"`
}

// SearchTablesInput is the input for the SearchTables tool.
type SearchTablesInput struct {
	Term   string `json:"term"`
	Schema string `json:"schema"`
}

// ColumnMatch is a column whose name matched the search term.
type ColumnMatch struct {
	Table  string `json:"table"`
	Column string `json:"column"`
	Type   string `json:"type"`
}

// SearchTablesOutput is the output of the SearchTables tool. Both lists are
// deduplicated and sorted.
type SearchTablesOutput struct {
	Schema  string        `json:"schema"`
	Term    string        `json:"term"`
	Tables  []string      `json:"tables"`
	Columns []ColumnMatch `json:"columns"`
}
