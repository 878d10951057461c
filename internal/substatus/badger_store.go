// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package substatus

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps one key per subscription, named by Key, holding the
// raw status string.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens or creates the database directory at dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("substatus: open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(_ context.Context, channelID, subType string) (Status, error) {
	var st Status
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(Key(channelID, subType)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			st = Status(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return StatusUnknown, nil
	}
	if err != nil {
		return StatusUnknown, fmt.Errorf("substatus: get: %w", err)
	}
	return st, nil
}

func (s *BadgerStore) Set(_ context.Context, channelID, subType string, status Status) error {
	if err := checkStatus(status); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(Key(channelID, subType)), []byte(status))
	})
	if err != nil {
		return fmt.Errorf("substatus: set: %w", err)
	}
	return nil
}

func (s *BadgerStore) All(_ context.Context) ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			channelID, subType, ok := SplitKey(string(item.Key()))
			if !ok {
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, Entry{ChannelID: channelID, Type: subType, Status: Status(val)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("substatus: list: %w", err)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return cmp.Or(cmp.Compare(a.ChannelID, b.ChannelID), cmp.Compare(a.Type, b.Type))
	})
	return out, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }
