package database

import (
	"github.com/huandu/go-sqlbuilder"
)

// flavor is the SQL dialect of every builder in this package.
var flavor = sqlbuilder.PostgreSQL

// InsertBuilder builds a multi-row INSERT.
type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

// Insert starts an INSERT into table for cols.
func Insert(table string, cols ...string) *InsertBuilder {
	ib := flavor.NewInsertBuilder()
	ib.InsertInto(table).Cols(cols...)
	return &InsertBuilder{ib}
}

// Row appends one row of values in column order.
func (b *InsertBuilder) Row(values ...any) *InsertBuilder {
	b.Values(values...)
	return b
}

// IgnoreConflicts makes rows that collide with an existing key a no-op, so replays are safe.
func (b *InsertBuilder) IgnoreConflicts() *InsertBuilder {
	b.SQL("ON CONFLICT DO NOTHING")
	return b
}

// UpdateBuilder builds an UPDATE.
type UpdateBuilder struct {
	*sqlbuilder.UpdateBuilder
}

// Update starts an UPDATE of table.
func Update(table string) *UpdateBuilder {
	ub := flavor.NewUpdateBuilder()
	ub.Update(table)
	return &UpdateBuilder{ub}
}

// Struct maps a db-tagged row type onto its columns.
type Struct struct {
	*sqlbuilder.Struct
}

// NewStruct returns the column mapping of row, which must be a pointer to a struct.
func NewStruct(row any) *Struct {
	return &Struct{sqlbuilder.NewStruct(row).For(flavor)}
}

// Now is the database clock.
func Now() any {
	return sqlbuilder.Raw("NOW()")
}
