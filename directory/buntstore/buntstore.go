// Package buntstore implements directory.Store over github.com/tidwall/buntdb,
// an embedded, in-process key/value engine: a concrete, non-authoritative
// reference directory for tests and cmd/flowctl's demo scenarios.
/*
 * Copyright (c) 2024-2026, Flowweave Authors.
 */
package buntstore

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/flowweave/transport/directory"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is a directory.Store backed by an in-memory (or file-backed, if
// path is given) buntdb database.
type Store struct {
	db *buntdb.DB
}

// Open opens (creating if needed) a buntdb database at path. Pass ":memory:"
// for a pure in-process store with no file, the common case in tests and
// the demo CLI.
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func portKey(portID string) string { return "port_" + portID }

func (s *Store) Put(portID string, rec directory.PortRecord) error {
	b, err := api.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(portKey(portID), string(b), nil)
		return err
	})
}

func (s *Store) Get(portID string) (directory.PortRecord, bool, error) {
	var rec directory.PortRecord
	var found bool
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(portKey(portID))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return api.Unmarshal([]byte(v), &rec)
	})
	return rec, found, err
}

func (s *Store) Delete(portID string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(portKey(portID))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// GetConcat returns the list-typed value stored at key, or (nil, nil) if
// the key is absent or holds a non-list value. This is the corrected
// counterpart of storage_dict_local.py's get_concat: the Python source
// guards with `isinstance(self._data[key], list())`, which actually tests
// "is this a list" correctly only because list() happens to construct a
// value of the right runtime type — the bug is that it reads as "is this
// an empty list" to anyone skimming the call site. Here the check is
// spelled out directly: decode the stored JSON value and type-switch on
// []any, no ambiguity about what's being tested (see DESIGN.md).
func (s *Store) GetConcat(key string) ([]any, error) {
	var out []any
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var decoded any
		if err := api.Unmarshal([]byte(v), &decoded); err != nil {
			return err
		}
		if list, ok := decoded.([]any); ok {
			out = list
		}
		return nil
	})
	return out, err
}

// AppendConcat appends value to the list stored at key (creating it if
// absent), deduplicating like the original's `list(set(...))`.
func (s *Store) AppendConcat(key string, value any) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		var list []any
		if v, err := tx.Get(key); err == nil {
			var decoded any
			if jerr := api.Unmarshal([]byte(v), &decoded); jerr == nil {
				if existing, ok := decoded.([]any); ok {
					list = existing
				}
			}
		} else if err != buntdb.ErrNotFound {
			return err
		}
		if !containsAny(list, value) {
			list = append(list, value)
		}
		b, err := api.Marshal(list)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(key, string(b), nil)
		return err
	})
}

// Remove deletes value from the list stored at key when key holds a list,
// or drops key entirely when it holds a non-list value — the corrected
// counterpart of storage_dict_local.py's remove (same list-vs-not check
// as GetConcat).
func (s *Store) Remove(key string, value any) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var decoded any
		if err := api.Unmarshal([]byte(v), &decoded); err != nil {
			return err
		}
		list, isList := decoded.([]any)
		if !isList {
			_, err := tx.Delete(key)
			return err
		}
		out := list[:0]
		for _, v := range list {
			if !equalAny(v, value) {
				out = append(out, v)
			}
		}
		b, err := api.Marshal(out)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(key, string(b), nil)
		return err
	})
}

func containsAny(list []any, v any) bool {
	for _, x := range list {
		if equalAny(x, v) {
			return true
		}
	}
	return false
}

func equalAny(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

var _ directory.Store = (*Store)(nil)
