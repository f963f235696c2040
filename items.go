package mctext

import (
	"errors"

	"github.com/pior/mctext/ascii"
)

// Items iterates over the items of a GetMulti or GetsMulti response.
// Items are decoded lazily, one per call to Next:
//
//	items, err := client.GetMulti(ctx, "a", "b", "c")
//	if err != nil {
//	    return err
//	}
//	for items.Next() {
//	    item := items.Item()
//	    ...
//	}
//	if err := items.Err(); err != nil {
//	    return err
//	}
//
// The iterator is finite and cannot be restarted.
type Items struct {
	client    *Client
	reader    *ascii.ValueReader
	requested int
	hits      int

	item Item
	err  error
	done bool
}

// Next decodes the next item. It returns false when the response is
// exhausted or on error.
func (it *Items) Next() bool {
	if it.done {
		return false
	}

	// Closed or reconnected client
	if it.client.pending != response(it.reader) && !it.reader.Done() {
		it.finish(ErrNotConnected)
		return false
	}

	if !it.reader.Next() {
		err := it.reader.Err()
		if it.client.pending == response(it.reader) {
			it.client.pending = nil
			err = it.client.check(err)
		}
		it.finish(err)
		return false
	}

	block := it.reader.Block()
	value, err := it.client.codec.Decode(block.Flags, block.Data)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			decodeErr.Key = block.Key
		}
		it.client.counters.recordError()
		it.finish(err)
		return false
	}

	it.hits++
	it.item = Item{
		Key:   block.Key,
		Value: value,
		Flags: block.Flags,
		CAS:   block.CAS,
		Found: true,
	}
	return true
}

// Item returns the item decoded by the last successful call to Next.
func (it *Items) Item() Item {
	return it.item
}

// Err returns the error that stopped the iteration, if any.
func (it *Items) Err() error {
	return it.err
}

// Collect returns all remaining items.
func (it *Items) Collect() ([]Item, error) {
	var items []Item
	for it.Next() {
		items = append(items, it.Item())
	}
	return items, it.Err()
}

// Close discards the rest of the response.
func (it *Items) Close() error {
	if it.done {
		return nil
	}
	it.finish(nil)

	if it.client.pending != response(it.reader) {
		return nil
	}
	it.client.pending = nil
	return it.client.check(it.reader.Drain())
}

func (it *Items) finish(err error) {
	if !it.done {
		it.client.counters.recordGet(it.requested, it.hits)
	}
	it.done = true
	it.err = err
}

// Stats iterates over the statistics of a Stats response.
// The iterator is finite and cannot be restarted.
type Stats struct {
	client *Client
	reader *ascii.StatReader

	name  string
	value string
	err   error
	done  bool
}

// Next reads the next statistic. It returns false at the end of the
// response or on error.
func (s *Stats) Next() bool {
	if s.done {
		return false
	}

	if s.client.pending != response(s.reader) && !s.reader.Done() {
		s.done, s.err = true, ErrNotConnected
		return false
	}

	if !s.reader.Next() {
		err := s.reader.Err()
		if s.client.pending == response(s.reader) {
			s.client.pending = nil
			err = s.client.check(err)
		}
		s.done, s.err = true, err
		return false
	}

	s.name, s.value = s.reader.Stat()
	return true
}

// Stat returns the statistic read by the last successful call to Next.
func (s *Stats) Stat() (name, value string) {
	return s.name, s.value
}

// Err returns the error that stopped the iteration, if any.
func (s *Stats) Err() error {
	return s.err
}

// Close discards the rest of the response.
func (s *Stats) Close() error {
	if s.done {
		return nil
	}
	s.done = true

	if s.client.pending != response(s.reader) {
		return nil
	}
	s.client.pending = nil
	return s.client.check(s.reader.Drain())
}
