// Package ddl builds the DuckDB statements the pipeline issues: source scans,
// staging tables, parquet exports, session settings, extensions and secrets.
package ddl

import (
	"fmt"
	"strings"
)

// ColumnDef describes a column for CREATE TABLE.
type ColumnDef struct {
	Name string
	Type string
}

// Source describes a file scan.
type Source struct {
	Path      string
	Format    string // csv, json or parquet
	Delimiter string // csv only; defaults to ","
	Header    bool   // csv only
}

// ScanSource returns the table function expression reading src, for example
//
//	read_csv(['in/airports.csv'], delim = ',', header = true, all_varchar = true)
//
// Parquet scans enable hive partitioning so partition directories come back
// as columns.
func ScanSource(src Source) (string, error) {
	if src.Path == "" {
		return "", fmt.Errorf("source path is required")
	}
	path := "[" + QuoteLiteral(src.Path) + "]"
	switch strings.ToLower(src.Format) {
	case "csv":
		delim := src.Delimiter
		if delim == "" {
			delim = ","
		}
		if len(delim) != 1 {
			return "", fmt.Errorf("csv delimiter must be a single character, got %q", delim)
		}
		return fmt.Sprintf("read_csv(%s, delim = %s, header = %t, all_varchar = true)",
			path, QuoteLiteral(delim), src.Header), nil
	case "json":
		return fmt.Sprintf("read_json_auto(%s)", path), nil
	case "parquet", "":
		return fmt.Sprintf("read_parquet(%s, hive_partitioning = true, union_by_name = true)", path), nil
	default:
		return "", fmt.Errorf("unsupported file format: %q", src.Format)
	}
}

// DiscoverColumnsSQL generates a DESCRIBE statement returning the column
// names and types of a source without reading its rows.
func DiscoverColumnsSQL(src Source) (string, error) {
	scan, err := ScanSource(src)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DESCRIBE SELECT * FROM %s LIMIT 0", scan), nil
}

// SelectAsVarcharSQL selects columns from src, each cast to VARCHAR under its
// own name.
func SelectAsVarcharSQL(src Source, columns []string) (string, error) {
	scan, err := ScanSource(src)
	if err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("at least one column is required")
	}
	exprs := make([]string, len(columns))
	for i, c := range columns {
		if err := ValidateColumnName(c); err != nil {
			return "", fmt.Errorf("invalid column name %q: %w", c, err)
		}
		q := QuoteIdentifier(c)
		exprs[i] = fmt.Sprintf("CAST(%s AS VARCHAR) AS %s", q, q)
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), scan), nil
}

// CreateTempTable returns a DuckDB DDL statement:
// CREATE OR REPLACE TEMP TABLE "<name>" ("<col1>" TYPE1, ...).
func CreateTempTable(name string, columns []ColumnDef) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("at least one column is required")
	}
	colDefs := make([]string, len(columns))
	for i, c := range columns {
		if err := ValidateColumnName(c.Name); err != nil {
			return "", fmt.Errorf("invalid column name %q: %w", c.Name, err)
		}
		if err := ValidateColumnType(c.Type); err != nil {
			return "", fmt.Errorf("invalid column type for %q: %w", c.Name, err)
		}
		colDefs[i] = fmt.Sprintf("%s %s", QuoteIdentifier(c.Name), c.Type)
	}
	return fmt.Sprintf("CREATE OR REPLACE TEMP TABLE %s (%s)",
		QuoteIdentifier(name), strings.Join(colDefs, ", ")), nil
}

// DropTable returns a DuckDB DDL statement: DROP TABLE IF EXISTS "<name>".
func DropTable(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", QuoteIdentifier(name)), nil
}

// CopyToParquet returns a COPY statement exporting table to a single parquet
// file at path.
func CopyToParquet(table, path, compression string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if path == "" {
		return "", fmt.Errorf("target path is required")
	}
	if compression == "" {
		compression = "zstd"
	}
	switch strings.ToLower(compression) {
	case "zstd", "snappy", "gzip", "uncompressed":
	default:
		return "", fmt.Errorf("unsupported parquet compression: %q", compression)
	}
	return fmt.Sprintf("COPY %s TO %s (FORMAT PARQUET, COMPRESSION %s)",
		QuoteIdentifier(table), QuoteLiteral(path), strings.ToUpper(compression)), nil
}

// InstallExtension returns the statements installing and loading a DuckDB extension.
func InstallExtension(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid extension name: %w", err)
	}
	return fmt.Sprintf("INSTALL %s; LOAD %s;", name, name), nil
}

// SetOption returns a SET statement for a DuckDB setting. Integer values are
// emitted bare, everything else as a string literal.
func SetOption(name string, value any) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid setting name: %w", err)
	}
	switch v := value.(type) {
	case int:
		return fmt.Sprintf("SET %s = %d", name, v), nil
	case string:
		return fmt.Sprintf("SET %s = %s", name, QuoteLiteral(v)), nil
	default:
		return "", fmt.Errorf("unsupported value %v for setting %s", value, name)
	}
}

// CreateS3Secret returns a DuckDB DDL statement to create an S3 secret.
// Empty endpoint, region and URL style are left to DuckDB defaults.
func CreateS3Secret(name, keyID, secret, endpoint, region, urlStyle string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("secret name is required")
	}
	opts := []string{"TYPE S3"}
	add := func(key, value string) {
		if value != "" {
			opts = append(opts, key+" "+QuoteLiteral(value))
		}
	}
	add("KEY_ID", keyID)
	add("SECRET", secret)
	add("ENDPOINT", endpoint)
	add("REGION", region)
	add("URL_STYLE", urlStyle)
	return fmt.Sprintf("CREATE OR REPLACE SECRET %s (\n\t%s\n)",
		QuoteIdentifier(name), strings.Join(opts, ",\n\t")), nil
}

// DropSecret returns a DuckDB DDL statement: DROP SECRET IF EXISTS "<name>".
func DropSecret(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("secret name is required")
	}
	return fmt.Sprintf("DROP SECRET IF EXISTS %s", QuoteIdentifier(name)), nil
}
