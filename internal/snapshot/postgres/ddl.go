package postgres

import (
	"strings"

	"github.com/lib/pq"

	"github.com/janovincze/mnemosyne/internal/cdc"
)

// quoteQualified returns the quoted, fully qualified name of a table.
func quoteQualified(id cdc.TableID) string {
	return pq.QuoteIdentifier(id.Schema) + "." + pq.QuoteIdentifier(id.Table)
}

// synthesizeDDL builds the definition text of a table from its resolved
// structure. PostgreSQL has no server-side canonical DDL text, so the event
// carries a statement reconstructed from the catalogs.
func synthesizeDDL(table *cdc.TableSchema) string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	sb.WriteString(quoteQualified(table.ID))
	sb.WriteString(" (")

	for i, col := range table.Columns {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("\n    ")
		sb.WriteString(pq.QuoteIdentifier(col.Name))
		sb.WriteString(" ")
		sb.WriteString(col.Type)
		if col.DefaultValue != nil {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(*col.DefaultValue)
		}
		if !col.Nullable {
			sb.WriteString(" NOT NULL")
		}
	}

	if pk := table.PrimaryKeyColumns(); len(pk) > 0 {
		names := make([]string, len(pk))
		for i, col := range pk {
			names[i] = pq.QuoteIdentifier(col.Name)
		}
		sb.WriteString(",\n    PRIMARY KEY (")
		sb.WriteString(strings.Join(names, ", "))
		sb.WriteString(")")
	}

	sb.WriteString("\n)")
	return sb.String()
}
