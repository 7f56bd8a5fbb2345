// Package mongofake provides an in-memory stand-in for the subset of
// *mongo.Collection used by the repositories, so tests run without a live
// MongoDB deployment.
package mongofake

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection stores documents as bson.M in insertion order. Filters support
// top-level equality only; updates support $set, $setOnInsert and $inc.
type Collection struct {
	mu        sync.Mutex
	name      string
	uniqueKey string
	docs      []bson.M
	failures  map[string]error
	calls     map[string]int
}

// New creates a collection. When uniqueKey is not empty inserts and upserts
// reject a second document with the same value for that field.
func New(name, uniqueKey string) *Collection {
	return &Collection{
		name:      name,
		uniqueKey: uniqueKey,
		failures:  make(map[string]error),
		calls:     make(map[string]int),
	}
}

// FailOn makes every later call of op (e.g. "UpdateOne") return err.
func (c *Collection) FailOn(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, op)
		return
	}
	c.failures[op] = err
}

// Calls returns how many times op was invoked.
func (c *Collection) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Seed stores a document as-is.
func (c *Collection) Seed(doc bson.M) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, normalizeDoc(doc))
}

// Docs returns copies of the stored documents matching filter.
func (c *Collection) Docs(filter bson.M) []bson.M {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]bson.M, 0)
	for _, doc := range c.docs {
		if matches(doc, filter) {
			out = append(out, copyDoc(doc))
		}
	}
	return out
}

// Len returns the number of stored documents.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

func (c *Collection) InsertOne(_ context.Context, document interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter("InsertOne"); err != nil {
		return nil, err
	}

	doc, err := toDoc(document)
	if err != nil {
		return nil, err
	}
	if c.violatesUnique(doc, -1) {
		return nil, duplicateKeyError(c.uniqueKey)
	}

	c.docs = append(c.docs, doc)
	return &mongo.InsertOneResult{InsertedID: doc[c.uniqueKey]}, nil
}

func (c *Collection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter("FindOne"); err != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, err, nil)
	}

	filterDoc, err := toDoc(filter)
	if err != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, err, nil)
	}

	if idx := c.find(filterDoc); idx >= 0 {
		return mongo.NewSingleResultFromDocument(copyDoc(c.docs[idx]), nil, nil)
	}

	return mongo.NewSingleResultFromDocument(bson.M{}, mongo.ErrNoDocuments, nil)
}

func (c *Collection) Find(_ context.Context, filter interface{}, _ ...*options.FindOptions) (*mongo.Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter("Find"); err != nil {
		return nil, err
	}

	filterDoc, err := toDoc(filter)
	if err != nil {
		return nil, err
	}

	found := make([]interface{}, 0)
	for _, doc := range c.docs {
		if matches(doc, filterDoc) {
			found = append(found, copyDoc(doc))
		}
	}

	return mongo.NewCursorFromDocuments(found, nil, nil)
}

func (c *Collection) CountDocuments(_ context.Context, filter interface{}, _ ...*options.CountOptions) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter("CountDocuments"); err != nil {
		return 0, err
	}

	filterDoc, err := toDoc(filter)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, doc := range c.docs {
		if matches(doc, filterDoc) {
			count++
		}
	}
	return count, nil
}

func (c *Collection) UpdateOne(_ context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter("UpdateOne"); err != nil {
		return nil, err
	}

	upsert := false
	for _, opt := range opts {
		if opt != nil && opt.Upsert != nil {
			upsert = *opt.Upsert
		}
	}

	filterDoc, err := toDoc(filter)
	if err != nil {
		return nil, err
	}
	updateDoc, err := toDoc(update)
	if err != nil {
		return nil, err
	}

	idx := c.find(filterDoc)
	if idx < 0 {
		if !upsert {
			return &mongo.UpdateResult{}, nil
		}

		doc := bson.M{}
		for k, v := range filterDoc {
			doc[k] = v
		}
		if err := applyUpdate(doc, updateDoc, true); err != nil {
			return nil, err
		}
		if c.violatesUnique(doc, -1) {
			return nil, duplicateKeyError(c.uniqueKey)
		}
		c.docs = append(c.docs, doc)
		return &mongo.UpdateResult{UpsertedCount: 1, UpsertedID: doc[c.uniqueKey]}, nil
	}

	doc := copyDoc(c.docs[idx])
	if err := applyUpdate(doc, updateDoc, false); err != nil {
		return nil, err
	}
	if c.violatesUnique(doc, idx) {
		return nil, duplicateKeyError(c.uniqueKey)
	}
	c.docs[idx] = doc

	return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

// FindOneAndUpdate applies the update without upsert and always returns the
// updated document.
func (c *Collection) FindOneAndUpdate(_ context.Context, filter interface{}, update interface{}, _ ...*options.FindOneAndUpdateOptions) *mongo.SingleResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter("FindOneAndUpdate"); err != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, err, nil)
	}

	filterDoc, err := toDoc(filter)
	if err != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, err, nil)
	}
	updateDoc, err := toDoc(update)
	if err != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, err, nil)
	}

	idx := c.find(filterDoc)
	if idx < 0 {
		return mongo.NewSingleResultFromDocument(bson.M{}, mongo.ErrNoDocuments, nil)
	}

	doc := copyDoc(c.docs[idx])
	if err := applyUpdate(doc, updateDoc, false); err != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, err, nil)
	}
	c.docs[idx] = doc

	return mongo.NewSingleResultFromDocument(copyDoc(doc), nil, nil)
}

func (c *Collection) enter(op string) error {
	c.calls[op]++
	return c.failures[op]
}

func (c *Collection) find(filter bson.M) int {
	for i, doc := range c.docs {
		if matches(doc, filter) {
			return i
		}
	}
	return -1
}

func (c *Collection) violatesUnique(doc bson.M, skip int) bool {
	if c.uniqueKey == "" {
		return false
	}
	value, ok := doc[c.uniqueKey]
	if !ok {
		return false
	}
	for i, existing := range c.docs {
		if i == skip {
			continue
		}
		if equal(existing[c.uniqueKey], value) {
			return true
		}
	}
	return false
}

func applyUpdate(doc bson.M, update bson.M, inserting bool) error {
	for op, raw := range update {
		fields, ok := raw.(bson.M)
		if !ok {
			return fmt.Errorf("mongofake: %s expects a document, got %T", op, raw)
		}

		switch op {
		case "$set":
			for k, v := range fields {
				doc[k] = v
			}
		case "$setOnInsert":
			if !inserting {
				continue
			}
			for k, v := range fields {
				doc[k] = v
			}
		case "$inc":
			for k, v := range fields {
				current, _ := toInt64(doc[k])
				delta, ok := toInt64(v)
				if !ok {
					return fmt.Errorf("mongofake: $inc on %s expects a number, got %T", k, v)
				}
				doc[k] = current + delta
			}
		default:
			return fmt.Errorf("mongofake: unsupported update operator %s", op)
		}
	}
	return nil
}

func matches(doc, filter bson.M) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if cond, isCond := want.(bson.M); isCond {
			if !matchesOperators(got, ok, cond) {
				return false
			}
			continue
		}
		if !ok {
			if want == nil {
				continue
			}
			return false
		}
		if !equal(got, want) {
			return false
		}
	}
	return true
}

// matchesOperators supports $ne. A missing field compares as null.
func matchesOperators(got interface{}, present bool, cond bson.M) bool {
	for op, arg := range cond {
		switch op {
		case "$ne":
			if !present {
				got = nil
			}
			if got == nil && arg == nil {
				return false
			}
			if got != nil && arg != nil && equal(got, arg) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func equal(a, b interface{}) bool {
	if ai, ok := toInt64(a); ok {
		bi, ok := toInt64(b)
		return ok && ai == bi
	}
	return a == b
}

func toInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}

func toDoc(value interface{}) (bson.M, error) {
	if value == nil {
		return bson.M{}, nil
	}
	if doc, ok := value.(bson.M); ok {
		return normalizeDoc(doc), nil
	}

	raw, err := bson.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("mongofake: marshal %T: %w", value, err)
	}

	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("mongofake: unmarshal %T: %w", value, err)
	}
	return out, nil
}

// normalizeDoc converts nested bson.D/primitive.M values produced by callers
// into bson.M so update operators can be read uniformly.
func normalizeDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		if nested, ok := v.(bson.M); ok {
			out[k] = normalizeDoc(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func copyDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func duplicateKeyError(key string) error {
	return mongo.WriteException{
		WriteErrors: []mongo.WriteError{{
			Code:    11000,
			Message: fmt.Sprintf("E11000 duplicate key error collection: fake index: %s_unique", key),
		}},
	}
}
