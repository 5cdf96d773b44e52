package ddl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "simple", input: "stage_states"},
		{name: "underscore_prefix", input: "_part_0"},
		{name: "with_digits", input: "part1"},
		{name: "max_length", input: strings.Repeat("a", 128)},

		{name: "empty", input: "", wantErr: "name is required"},
		{name: "too_long", input: strings.Repeat("a", 129), wantErr: "at most 128 characters"},
		{name: "starts_with_digit", input: "1table", wantErr: "must match"},
		{name: "contains_space", input: "my table", wantErr: "must match"},
		{name: "contains_hyphen", input: "my-table", wantErr: "must match"},
		{name: "sql_injection", input: "foo; DROP TABLE", wantErr: "must match"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.input)
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateColumnName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "header_with_space", input: "State Code"},
		{name: "header_with_hyphen", input: "Foreign-born"},
		{name: "quote", input: `a"b`},
		{name: "empty", input: "", wantErr: "column name is required"},
		{name: "too_long", input: strings.Repeat("c", 256), wantErr: "at most 255"},
		{name: "nul", input: "a\x00b", wantErr: "NUL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateColumnName(tt.input)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple", input: "city", want: `"city"`},
		{name: "with_space", input: "State Code", want: `"State Code"`},
		{name: "with_double_quote", input: `my"col`, want: `"my""col"`},
		{name: "empty", input: "", want: `""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QuoteIdentifier(tt.input))
		})
	}
}

func TestQuoteLiteral(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple", input: "hello", want: "'hello'"},
		{name: "with_single_quote", input: "it's", want: "'it''s'"},
		{name: "empty", input: "", want: "''"},
		{name: "s3_path", input: "s3://bucket/path", want: "'s3://bucket/path'"},
		{name: "path_with_quote", input: "/tmp/it's here/x.csv", want: "'/tmp/it''s here/x.csv'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QuoteLiteral(tt.input))
		})
	}
}

func TestValidateColumnType(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "varchar", input: "VARCHAR"},
		{name: "bigint", input: "BIGINT"},
		{name: "date", input: "DATE"},
		{name: "timestamp", input: "TIMESTAMP"},
		{name: "decimal_precision_scale", input: "DECIMAL(10,2)"},
		{name: "lowercase", input: "bigint"},

		{name: "empty", input: "", wantErr: "column type is required"},
		{name: "too_long", input: strings.Repeat("A", 65), wantErr: "at most 64 characters"},
		{name: "semicolon_injection", input: "INTEGER); DROP TABLE foo; --", wantErr: "invalid characters"},
		{name: "quote_injection", input: "VARCHAR'; --", wantErr: "invalid characters"},
		{name: "array", input: "VARCHAR[]", wantErr: "not a recognized type"},
		{name: "starts_with_digit", input: "123", wantErr: "not a recognized type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateColumnType(tt.input)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
