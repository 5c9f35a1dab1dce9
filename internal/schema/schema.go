// Package schema defines the catalog snapshot pushed to language servers.
//
// An EngineSchema describes one cluster: its databases, their tables and
// the columns of each table. A narrowed schema additionally points at one
// selected database, which is what completion providers consume.
package schema

import (
	"fmt"
	"strings"
)

// Column is a single column of a table.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Table is a named, ordered list of columns.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Database is a named, ordered list of tables.
type Database struct {
	Name   string  `json:"name"`
	Tables []Table `json:"tables"`
}

// Cluster is the full catalog reachable through one connection string.
type Cluster struct {
	ConnectionString string     `json:"connectionString"`
	Databases        []Database `json:"databases"`
}

// EngineSchema is a catalog snapshot plus an optional selected database.
// Database is nil when the catalog has no databases; consumers treat that
// as "no table or column completion available".
type EngineSchema struct {
	Cluster  Cluster   `json:"cluster"`
	Database *Database `json:"database,omitempty"`
}

// FindDatabase returns the database whose name matches name, ignoring case.
func (s *EngineSchema) FindDatabase(name string) *Database {
	if s == nil {
		return nil
	}
	for i := range s.Cluster.Databases {
		if strings.EqualFold(s.Cluster.Databases[i].Name, name) {
			return &s.Cluster.Databases[i]
		}
	}
	return nil
}

// Narrow returns a deep copy of s with Database pointing at the database
// named database (case-insensitive). When database is empty or unknown the
// first database of the catalog is selected. The receiver is not modified.
func (s *EngineSchema) Narrow(database string) *EngineSchema {
	if s == nil {
		return nil
	}
	clone := s.Clone()
	clone.Database = nil
	if database != "" {
		clone.Database = clone.FindDatabase(database)
	}
	if clone.Database == nil && len(clone.Cluster.Databases) > 0 {
		clone.Database = &clone.Cluster.Databases[0]
	}
	return clone
}

// Clone returns a deep copy. The copy's Database, if set, points into the
// copy's own Cluster.Databases when it matches one of them by name.
func (s *EngineSchema) Clone() *EngineSchema {
	if s == nil {
		return nil
	}
	out := &EngineSchema{
		Cluster: Cluster{
			ConnectionString: s.Cluster.ConnectionString,
			Databases:        make([]Database, len(s.Cluster.Databases)),
		},
	}
	for i, db := range s.Cluster.Databases {
		out.Cluster.Databases[i] = db.clone()
	}
	if s.Database != nil {
		if db := out.FindDatabase(s.Database.Name); db != nil {
			out.Database = db
		} else {
			cp := s.Database.clone()
			out.Database = &cp
		}
	}
	return out
}

func (d Database) clone() Database {
	out := Database{Name: d.Name, Tables: make([]Table, len(d.Tables))}
	for i, t := range d.Tables {
		out.Tables[i] = Table{Name: t.Name, Columns: append([]Column(nil), t.Columns...)}
	}
	return out
}

// DatabaseName returns the selected database name, or "" when none is selected.
func (s *EngineSchema) DatabaseName() string {
	if s == nil || s.Database == nil {
		return ""
	}
	return s.Database.Name
}

// Signature is the human-readable delivery signature used in logs:
// connection string plus selected database name.
func (s *EngineSchema) Signature() string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", s.Cluster.ConnectionString, s.DatabaseName())
}

// FindTable returns the table with the given name in database db.
func (d *Database) FindTable(name string) *Table {
	if d == nil {
		return nil
	}
	for i := range d.Tables {
		if d.Tables[i].Name == name {
			return &d.Tables[i]
		}
	}
	return nil
}
