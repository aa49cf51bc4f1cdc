package directors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"shelfdb/src/codec"
	"shelfdb/src/engine"
	"shelfdb/src/helpers"
	"shelfdb/src/models"
)

// Operation is the pending action of an API call chain.
type Operation int

const (
	OpNone Operation = iota
	OpCreate
	OpRead
	OpUpdate
	OpDelete
	OpCount
	OpCreateIndex
	OpDeleteIndex
	OpCreateCollection
	OpDeleteCollection
)

var operationNames = map[Operation]string{
	OpNone:             "NONE",
	OpCreate:           "CREATE",
	OpRead:             "READ",
	OpUpdate:           "UPDATE",
	OpDelete:           "DELETE",
	OpCount:            "COUNT",
	OpCreateIndex:      "CREATE_INDEX",
	OpDeleteIndex:      "DELETE_INDEX",
	OpCreateCollection: "CREATE_COLLECTION",
	OpDeleteCollection: "DELETE_COLLECTION",
}

func (o Operation) String() string {
	if s, ok := operationNames[o]; ok {
		return s
	}
	return fmt.Sprintf("OP(%d)", int(o))
}

func (o Operation) mutating() bool {
	switch o {
	case OpNone, OpRead, OpCount:
		return false
	}
	return true
}

// Result is what Execute returns for every operation.
type Result struct {
	CommandID  string            `json:"command_id"`
	Operation  string            `json:"operation"`
	Collection string            `json:"collection,omitempty"`
	Documents  []models.Document `json:"documents,omitempty"`
	IDs        []uint64          `json:"ids,omitempty"`
	Count      int               `json:"count"`
	// Warning carries the skipped-file report of a best-effort batch.
	Warning string `json:"warning,omitempty"`
}

// JSON renders the result for display.
func (r *Result) JSON() (string, error) {
	return codec.Render(r)
}

// API is a fluent query builder over a Database. It accumulates one pending
// operation and its conditions; Execute runs it and clears the pending state.
// An API value is not safe for concurrent use.
type API struct {
	db      *engine.Database
	journal *engine.Journal
	logger  *zap.SugaredLogger

	op         Operation
	collection string
	payload    map[string]interface{}
	field      models.FieldPath
	sourceDir  string
	conditions []models.Condition
}

// NewAPI creates a builder over db. journal may be nil.
func NewAPI(db *engine.Database, journal *engine.Journal, logger *zap.SugaredLogger) *API {
	return &API{db: db, journal: journal, logger: helpers.LoggerOrNop(logger)}
}

// Database returns the underlying database.
func (a *API) Database() *engine.Database { return a.db }

func (a *API) pending(op Operation, collection string) *API {
	a.reset()
	a.op = op
	a.collection = collection
	return a
}

func (a *API) reset() {
	a.op = OpNone
	a.collection = ""
	a.payload = nil
	a.field = nil
	a.sourceDir = ""
	a.conditions = nil
}

// Create queues the insertion of doc into collection.
func (a *API) Create(collection string, doc map[string]interface{}) *API {
	a.pending(OpCreate, collection)
	a.payload = doc
	return a
}

// Read queues a query on collection.
func (a *API) Read(collection string) *API {
	return a.pending(OpRead, collection)
}

// Update queues an update of the matching documents with partial.
func (a *API) Update(collection string, partial map[string]interface{}) *API {
	a.pending(OpUpdate, collection)
	a.payload = partial
	return a
}

// Delete queues the removal of the matching documents. At least one
// condition is required.
func (a *API) Delete(collection string) *API {
	return a.pending(OpDelete, collection)
}

// Count queues a document count of collection.
func (a *API) Count(collection string) *API {
	return a.pending(OpCount, collection)
}

// CreateIndex queues building a hash index on field.
func (a *API) CreateIndex(collection string, field models.FieldPath) *API {
	a.pending(OpCreateIndex, collection)
	a.field = field
	return a
}

// DeleteIndex queues removing the hash index on field.
func (a *API) DeleteIndex(collection string, field models.FieldPath) *API {
	a.pending(OpDeleteIndex, collection)
	a.field = field
	return a
}

// CreateCollection queues creating an empty collection.
func (a *API) CreateCollection(name string) *API {
	return a.pending(OpCreateCollection, name)
}

// CreateCollectionFrom queues creating a collection filled from the document
// files below dir.
func (a *API) CreateCollectionFrom(name, dir string) *API {
	a.pending(OpCreateCollection, name)
	a.sourceDir = dir
	return a
}

// DeleteCollection queues removing a collection.
func (a *API) DeleteCollection(name string) *API {
	return a.pending(OpDeleteCollection, name)
}

// And adds a condition to the pending operation. Conditions with an empty
// field or an unknown operator are ignored.
func (a *API) And(field string, op models.Operator, value interface{}) *API {
	return a.AndCondition(models.Where(field, op, value))
}

// AndCondition adds a prepared condition; invalid ones are ignored.
func (a *API) AndCondition(cond models.Condition) *API {
	if !cond.Valid() {
		a.logger.Debugw("Ignoring invalid condition", "field", cond.Field.String(), "operator", cond.Operator)
		return a
	}
	a.conditions = append(a.conditions, cond)
	return a
}

// Execute runs the pending operation and clears it.
func (a *API) Execute() (*Result, error) {
	defer a.reset()

	result := &Result{
		CommandID:  helpers.GenerateUUID(),
		Operation:  a.op.String(),
		Collection: a.collection,
	}
	logger := a.logger.With("cmd_id", result.CommandID, "operation", result.Operation, "collection", a.collection)

	err := a.run(result)
	if err != nil && engine.IsPartial(err) {
		logger.Warnw("Command completed with skipped files", "error", err)
		result.Warning = err.Error()
		err = nil
	}
	if err != nil {
		logger.Errorw("Command failed", "error", err, "exit_code", engine.ExitCode(err))
		return nil, err
	}

	logger.Debugw("Command executed", "count", result.Count)
	if a.op.mutating() {
		a.record(logger)
	}
	return result, nil
}

func (a *API) run(result *Result) error {
	switch a.op {
	case OpNone:
		return errors.Wrap(engine.ErrInvalidArgument, "no pending operation")
	case OpCreateCollection:
		return a.runCreateCollection(result)
	case OpDeleteCollection:
		if err := a.db.DeleteCollection(a.collection); err != nil {
			return err
		}
		result.Count = 1
		return nil
	}

	coll, err := a.db.Collection(a.collection)
	if err != nil {
		return err
	}

	switch a.op {
	case OpCreate:
		id, err := coll.Create(a.payload)
		if err != nil && !engine.IsPartial(err) {
			return err
		}
		result.IDs = []uint64{id}
		result.Count = 1
		return err

	case OpRead:
		docs, err := coll.ReadByConditions(a.conditions)
		if err != nil && !engine.IsPartial(err) {
			return err
		}
		result.Documents = docs
		result.Count = len(docs)
		return err

	case OpUpdate:
		docs, err := coll.UpdateByConditions(a.conditions, a.payload)
		if err != nil && !engine.IsPartial(err) {
			return err
		}
		result.Documents = docs
		result.Count = len(docs)
		return err

	case OpDelete:
		if len(a.conditions) == 0 {
			return errors.Wrap(engine.ErrInvalidArgument, "delete requires at least one condition")
		}
		n, err := coll.DeleteByConditions(a.conditions)
		if err != nil && !engine.IsPartial(err) {
			return err
		}
		result.Count = n
		return err

	case OpCount:
		n, err := coll.NumberOfDocuments()
		if err != nil {
			return err
		}
		result.Count = int(n)
		return nil

	case OpCreateIndex:
		if err := coll.CreateHashIndex(a.field); err != nil {
			return err
		}
		result.Count = 1
		return nil

	case OpDeleteIndex:
		if err := coll.DeleteHashIndex(a.field); err != nil {
			return err
		}
		result.Count = 1
		return nil
	}
	return errors.Wrapf(engine.ErrInvalidArgument, "unsupported operation %s", a.op)
}

func (a *API) runCreateCollection(result *Result) error {
	if a.sourceDir == "" {
		if _, err := a.db.CreateCollection(a.collection); err != nil {
			return err
		}
		return nil
	}

	_, n, err := a.db.CreateCollectionFromDir(a.collection, a.sourceDir)
	result.Count = n
	return err
}

// record writes a journal line for a mutating command.
func (a *API) record(logger *zap.SugaredLogger) {
	if a.journal == nil {
		return
	}

	var details []string
	if a.payload != nil {
		if s, err := codec.Render(a.payload); err == nil {
			details = append(details, s)
		}
	}
	if len(a.field) > 0 {
		details = append(details, a.field.String())
	}
	if a.sourceDir != "" {
		details = append(details, "from "+a.sourceDir)
	}
	if len(a.conditions) > 0 {
		details = append(details, "where "+FormatConditions(a.conditions))
	}

	if err := a.journal.AddEntry(a.op.String(), a.collection, strings.Join(details, " ")); err != nil {
		logger.Warnw("Failed to write journal entry", "error", err)
	}
}

// FormatConditions renders a conjunction the way the command parser reads it.
func FormatConditions(conds []models.Condition) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		v, err := codec.Render(c.Value)
		if err != nil {
			v = fmt.Sprint(c.Value)
		}
		parts[i] = fmt.Sprintf("%s %s %s", c.Field, c.Operator, v)
	}
	return strings.Join(parts, " AND ")
}
