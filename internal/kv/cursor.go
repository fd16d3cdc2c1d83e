package kv

import (
	"bytes"

	bolt "go.etcd.io/bbolt"
)

// Cursor walks a Bucket's entries in key order. Keys and values it returns
// are only valid for the lifetime of the enclosing transaction.
type Cursor struct {
	c *bolt.Cursor
}

// First moves to the lexicographically smallest key.
func (c *Cursor) First() (key, value []byte) {
	return c.c.First()
}

// Last moves to the lexicographically largest key.
func (c *Cursor) Last() (key, value []byte) {
	return c.c.Last()
}

// Next advances to the following key in ascending order.
func (c *Cursor) Next() (key, value []byte) {
	return c.c.Next()
}

// Prev moves to the preceding key in ascending order (i.e. descending).
func (c *Cursor) Prev() (key, value []byte) {
	return c.c.Prev()
}

// Seek moves to the smallest key greater than or equal to seek.
func (c *Cursor) Seek(seek []byte) (key, value []byte) {
	return c.c.Seek(seek)
}

// VisitFn is called once per entry during a scan. Returning false stops the
// scan early.
type VisitFn func(key, value []byte) bool

// ForEach visits every entry in ascending key order.
func (c *Cursor) ForEach(fn VisitFn) {
	for k, v := c.c.First(); k != nil; k, v = c.c.Next() {
		if !fn(k, v) {
			return
		}
	}
}

// ForEachReverse visits every entry in descending key order.
func (c *Cursor) ForEachReverse(fn VisitFn) {
	for k, v := c.c.Last(); k != nil; k, v = c.c.Prev() {
		if !fn(k, v) {
			return
		}
	}
}

// ForEachPrefix visits every entry whose key starts with prefix, in
// ascending order. Used by term-prefix posting-list lookups.
func (c *Cursor) ForEachPrefix(prefix []byte, fn VisitFn) {
	for k, v := c.c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.c.Next() {
		if !fn(k, v) {
			return
		}
	}
}

// ForEachRange visits every entry with start <= key < end, in ascending
// order. A nil end scans through the last key in the bucket. Used by
// facet-tree range queries and composite-key (term, docid) scans.
func (c *Cursor) ForEachRange(start, end []byte, fn VisitFn) {
	for k, v := c.c.Seek(start); k != nil; k, v = c.c.Next() {
		if end != nil && bytes.Compare(k, end) >= 0 {
			return
		}
		if !fn(k, v) {
			return
		}
	}
}

// ForEachRangeReverse visits every entry with start <= key < end, in
// descending order.
func (c *Cursor) ForEachRangeReverse(start, end []byte, fn VisitFn) {
	var k, v []byte
	if end == nil {
		k, v = c.c.Last()
	} else {
		k, v = c.c.Seek(end)
		if k == nil {
			k, v = c.c.Last()
		} else {
			k, v = c.c.Prev()
		}
	}
	for ; k != nil && bytes.Compare(k, start) >= 0; k, v = c.c.Prev() {
		if !fn(k, v) {
			return
		}
	}
}
