package schema

import (
	"fmt"
	"strings"
)

// TableSummary renders a plain-text description of one table:
//
//	Cluster: help
//	Database: ContosoSales
//	Table: SalesFact
//	Columns: 1
//	  - Amount: real
//
// It returns "" and false when the database or table does not exist.
func (s *EngineSchema) TableSummary(clusterName, databaseName, tableName string) (string, bool) {
	if s == nil {
		return "", false
	}
	var db *Database
	for i := range s.Cluster.Databases {
		if s.Cluster.Databases[i].Name == databaseName {
			db = &s.Cluster.Databases[i]
			break
		}
	}
	table := db.FindTable(tableName)
	if table == nil {
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cluster: %s\n", clusterName)
	fmt.Fprintf(&b, "Database: %s\n", databaseName)
	fmt.Fprintf(&b, "Table: %s\n", tableName)
	fmt.Fprintf(&b, "Columns: %d\n", len(table.Columns))
	for _, col := range table.Columns {
		fmt.Fprintf(&b, "  - %s: %s\n", col.Name, col.Type)
	}
	return b.String(), true
}
