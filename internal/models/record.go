package models

import (
	"time"
)

// Document is the schemaless body of a stored record.
type Document map[string]any

// Clone returns a shallow copy.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Record is a document together with the metadata the gateway stamps on it.
type Record struct {
	Collection string
	ID         string
	Data       Document
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Version    int
	Encrypted  bool
}

type PredicateOp string

const (
	OpEqual        PredicateOp = "=="
	OpNotEqual     PredicateOp = "!="
	OpLess         PredicateOp = "<"
	OpLessEqual    PredicateOp = "<="
	OpGreater      PredicateOp = ">"
	OpGreaterEqual PredicateOp = ">="
	OpIn           PredicateOp = "in"
)

func (op PredicateOp) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpIn:
		return true
	}
	return false
}

// Predicate is a single field filter of a record query. Predicates compare
// against stored values, so they do not match sealed fields by plaintext.
type Predicate struct {
	Field string      `json:"field" validate:"required,max=128"`
	Op    PredicateOp `json:"op" validate:"required"`
	Value any         `json:"value"`
}

type BatchOpType string

const (
	BatchCreate BatchOpType = "CREATE"
	BatchUpdate BatchOpType = "UPDATE"
	BatchDelete BatchOpType = "DELETE"
)

// BatchOperation is one step of a heterogeneous batch.
type BatchOperation struct {
	Type       BatchOpType `json:"type" validate:"required,oneof=CREATE UPDATE DELETE"`
	Collection string      `json:"collection" validate:"required,max=64"`
	ID         string      `json:"id" validate:"required,max=128"`
	Data       Document    `json:"data,omitempty"`
	Encrypt    bool        `json:"encrypt,omitempty"`
}

// BatchOutcome is the per-operation result of a batch. Failures of one
// operation do not abort the rest.
type BatchOutcome struct {
	Index      int         `json:"index"`
	Type       BatchOpType `json:"type"`
	Collection string      `json:"collection"`
	ID         string      `json:"id"`
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
}
