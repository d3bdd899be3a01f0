package sculptor

import (
	"github.com/emberwright/metaforge/forge"
	"github.com/emberwright/metaforge/memory"
)

// RecordPair is a record's state before and after a sculpt mutation.
type RecordPair struct {
	Before *memory.Record
	After  *memory.Record
}

// Result is the immutable outcome of a sculpt call.
type Result struct {
	Intent      Intent
	Success     bool
	Err         error
	Modified    []RecordPair
	Created     []*memory.Record
	DeletedIDs  []string
	AffectedIDs []string
	Impact      forge.Impact
}
