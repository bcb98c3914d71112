package snapshot

import (
	"github.com/janovincze/mnemosyne/internal/cdc"
)

// Context is the mutable state threaded through a single snapshot attempt. It
// has exactly one owner at every step of the sequence: the runner hands it to
// one source operation at a time and never aliases it, so separate attempts in
// separate contexts are safe to run concurrently.
type Context struct {
	// CatalogName identifies the logical sub-database in scope.
	CatalogName string

	// CapturedTables is the set of tables selected for capture, fixed once
	// enumeration completes. Order is not semantically significant but locking
	// iterates it deterministically.
	CapturedTables []cdc.TableID

	// TableSchemas maps each captured table to its resolved structure. Empty
	// until structure reading runs; exactly the captured set afterwards.
	TableSchemas map[cdc.TableID]*cdc.TableSchema

	offset *cdc.Offset
}

// NewContext creates the state for one snapshot attempt.
func NewContext(catalogName string) *Context {
	return &Context{
		CatalogName:  catalogName,
		TableSchemas: make(map[cdc.TableID]*cdc.TableSchema),
	}
}

// SetOffset records the resolved resume position. It may be called exactly
// once per attempt, after lock acquisition and before lock release.
func (c *Context) SetOffset(offset cdc.Offset) error {
	if c.offset != nil {
		return ErrOffsetAlreadySet
	}
	c.offset = &offset
	return nil
}

// Offset returns the resolved resume position, or nil if marker resolution
// has not completed yet.
func (c *Context) Offset() *cdc.Offset {
	return c.offset
}

// Schemas returns the distinct schema names across the captured tables, in
// first-seen order. Structure reading is restricted to these schemas; reading
// every schema in the catalog would be correctness-equivalent but far slower.
func (c *Context) Schemas() []string {
	seen := make(map[string]bool, len(c.CapturedTables))
	var schemas []string
	for _, id := range c.CapturedTables {
		if !seen[id.Schema] {
			seen[id.Schema] = true
			schemas = append(schemas, id.Schema)
		}
	}
	return schemas
}
