package main

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/zeebo/xxh3"

	"github.com/pior/mctext"
)

// payload returns n random bytes prefixed by their xxh3 checksum, so a value
// read back can be verified without remembering what was written.
func payload(n int) []byte {
	b := make([]byte, 8+n)
	crand.Read(b[8:])
	binary.BigEndian.PutUint64(b, xxh3.Hash(b[8:]))
	return b
}

func verifyPayload(b []byte) error {
	if len(b) < 8 {
		return fmt.Errorf("payload too short: %d bytes", len(b))
	}
	want := binary.BigEndian.Uint64(b)
	if got := xxh3.Hash(b[8:]); got != want {
		return fmt.Errorf("checksum mismatch: got %016x, want %016x", got, want)
	}
	return nil
}

// testKey spreads keys over a bounded keyspace per check and worker.
func testKey(check string, workerID, n int) string {
	return fmt.Sprintf("mctext:%s:%d:%08x", check, workerID, uint32(xxh3.HashString(strconv.Itoa(n))))
}

func (w *worker) opError(stats *Stats, check, op, key string, err error) {
	stats.errors.Add(1)
	w.logger.Warn("operation failed", "check", check, "op", op, "key", key, "kind", mctext.KindOf(err), "error", err)
}

func (w *worker) unexpected(stats *Stats, check, key, format string, args ...any) {
	stats.failures.Add(1)
	w.logger.Error("UNEXPECTED: "+fmt.Sprintf(format, args...), "check", check, "worker", w.id, "key", key)
}

func (w *worker) deleteIfExists(ctx context.Context, key string) error {
	err := w.client.Delete(ctx, key)
	if errors.Is(err, mctext.ErrNotFound) {
		return nil
	}
	return err
}

func checkSetGet(ctx context.Context, w *worker, stats *Stats) {
	key := testKey("setget", w.id, rand.IntN(100))
	value := payload(16 + rand.IntN(1024))

	if err := w.client.Set(ctx, mctext.Item{Key: key, Value: mctext.Raw(value)}); err != nil {
		w.opError(stats, "SetGet", "set", key, err)
		return
	}

	item, err := w.client.Get(ctx, key)
	if err != nil {
		w.opError(stats, "SetGet", "get", key, err)
		return
	}
	stats.operations.Add(1)

	if !item.Found {
		w.unexpected(stats, "SetGet", key, "key not found after set")
		return
	}
	if err := verifyPayload(item.Value.Bytes()); err != nil {
		w.unexpected(stats, "SetGet", key, "%v", err)
		return
	}
	if !bytes.Equal(item.Value.Bytes(), value) {
		w.unexpected(stats, "SetGet", key, "value overwritten by another writer")
		return
	}
	stats.successes.Add(1)
}

func checkAdd(ctx context.Context, w *worker, stats *Stats) {
	key := testKey("add", w.id, rand.IntN(1000))

	if err := w.deleteIfExists(ctx, key); err != nil {
		w.opError(stats, "Add", "delete", key, err)
		return
	}

	stored, err := w.client.Add(ctx, mctext.Item{Key: key, Value: mctext.String("first")})
	if err != nil {
		w.opError(stats, "Add", "add", key, err)
		return
	}
	stats.operations.Add(1)
	if !stored {
		w.unexpected(stats, "Add", key, "first add was not stored")
		return
	}

	stored, err = w.client.Add(ctx, mctext.Item{Key: key, Value: mctext.String("second")})
	if err != nil {
		w.opError(stats, "Add", "add", key, err)
		return
	}
	if stored {
		w.unexpected(stats, "Add", key, "second add was stored")
		return
	}
	stats.successes.Add(1)
}

func checkReplace(ctx context.Context, w *worker, stats *Stats) {
	key := testKey("replace", w.id, rand.IntN(1000))

	if err := w.deleteIfExists(ctx, key); err != nil {
		w.opError(stats, "Replace", "delete", key, err)
		return
	}

	stored, err := w.client.Replace(ctx, mctext.Item{Key: key, Value: mctext.String("x")})
	if err != nil {
		w.opError(stats, "Replace", "replace", key, err)
		return
	}
	stats.operations.Add(1)
	if stored {
		w.unexpected(stats, "Replace", key, "replace of a missing key was stored")
		return
	}

	if err := w.client.Set(ctx, mctext.Item{Key: key, Value: mctext.String("x")}); err != nil {
		w.opError(stats, "Replace", "set", key, err)
		return
	}
	stored, err = w.client.Replace(ctx, mctext.Item{Key: key, Value: mctext.String("y")})
	if err != nil {
		w.opError(stats, "Replace", "replace", key, err)
		return
	}
	if !stored {
		w.unexpected(stats, "Replace", key, "replace of an existing key was not stored")
		return
	}
	stats.successes.Add(1)
}

func checkDelete(ctx context.Context, w *worker, stats *Stats) {
	key := testKey("delete", w.id, rand.IntN(100))

	if err := w.client.Set(ctx, mctext.Item{Key: key, Value: mctext.Raw(payload(32))}); err != nil {
		w.opError(stats, "Delete", "set", key, err)
		return
	}
	if err := w.client.Delete(ctx, key); err != nil {
		w.opError(stats, "Delete", "delete", key, err)
		return
	}

	item, err := w.client.Get(ctx, key)
	if err != nil {
		w.opError(stats, "Delete", "get", key, err)
		return
	}
	stats.operations.Add(1)
	if item.Found {
		w.unexpected(stats, "Delete", key, "key found after delete")
		return
	}

	err = w.client.Delete(ctx, key)
	if !errors.Is(err, mctext.ErrNotFound) {
		w.unexpected(stats, "Delete", key, "second delete returned %v, expected not found", err)
		return
	}
	stats.successes.Add(1)
	stats.misses.Add(1)
}

func checkCAS(ctx context.Context, w *worker, stats *Stats) {
	key := testKey("cas", w.id, rand.IntN(100))

	if err := w.client.Set(ctx, mctext.Item{Key: key, Value: mctext.Int(1)}); err != nil {
		w.opError(stats, "CAS", "set", key, err)
		return
	}

	item, err := w.client.Gets(ctx, key)
	if err != nil {
		w.opError(stats, "CAS", "gets", key, err)
		return
	}
	stats.operations.Add(1)
	if !item.Found || item.CAS == 0 {
		w.unexpected(stats, "CAS", key, "gets returned found=%t cas=%d", item.Found, item.CAS)
		return
	}

	stale := item
	item.Value = mctext.Int(2)
	swapped, err := w.client.CompareAndSwap(ctx, item)
	if err != nil {
		w.opError(stats, "CAS", "cas", key, err)
		return
	}
	if !swapped {
		w.unexpected(stats, "CAS", key, "cas with a fresh token was rejected")
		return
	}

	stale.Value = mctext.Int(3)
	swapped, err = w.client.CompareAndSwap(ctx, stale)
	if err != nil {
		w.opError(stats, "CAS", "cas", key, err)
		return
	}
	if swapped {
		w.unexpected(stats, "CAS", key, "cas with a stale token was accepted")
		return
	}

	if err := w.client.Delete(ctx, key); err != nil {
		w.opError(stats, "CAS", "delete", key, err)
		return
	}
	if _, err := w.client.CompareAndSwap(ctx, item); !errors.Is(err, mctext.ErrNotFound) {
		w.unexpected(stats, "CAS", key, "cas on a deleted key returned %v, expected not found", err)
		return
	}
	stats.successes.Add(1)
}

func checkBatch(ctx context.Context, w *worker, stats *Stats) {
	base := rand.IntN(1000)
	keys := make([]string, 10)
	stored := map[string]bool{}

	for i := range keys {
		keys[i] = testKey("batch", w.id, base+i)
		if i%3 == 2 {
			if err := w.deleteIfExists(ctx, keys[i]); err != nil {
				w.opError(stats, "Batch", "delete", keys[i], err)
				return
			}
			continue
		}
		if err := w.client.Set(ctx, mctext.Item{Key: keys[i], Value: mctext.Raw(payload(64))}); err != nil {
			w.opError(stats, "Batch", "set", keys[i], err)
			return
		}
		stored[keys[i]] = true
	}

	items, err := w.client.GetsMulti(ctx, keys...)
	if err != nil {
		w.opError(stats, "Batch", "gets", keys[0], err)
		return
	}
	found, err := items.Collect()
	if err != nil {
		w.opError(stats, "Batch", "gets", keys[0], err)
		return
	}
	stats.operations.Add(1)

	for _, item := range found {
		if !stored[item.Key] {
			w.unexpected(stats, "Batch", item.Key, "returned a key that was not stored")
			return
		}
		if err := verifyPayload(item.Value.Bytes()); err != nil {
			w.unexpected(stats, "Batch", item.Key, "%v", err)
			return
		}
		if item.CAS == 0 {
			w.unexpected(stats, "Batch", item.Key, "missing cas token")
			return
		}
	}
	if len(found) != len(stored) {
		w.unexpected(stats, "Batch", keys[0], "got %d items, expected %d", len(found), len(stored))
		return
	}
	stats.successes.Add(1)
	stats.misses.Add(int64(len(keys) - len(found)))
}

func checkIncrement(ctx context.Context, w *worker, stats *Stats) {
	key := testKey("incr", w.id, 0)

	if err := w.deleteIfExists(ctx, key); err != nil {
		w.opError(stats, "Increment", "delete", key, err)
		return
	}

	_, err := w.client.Increment(ctx, key, 1)
	stats.operations.Add(1)
	if !errors.Is(err, mctext.ErrNotFound) {
		w.unexpected(stats, "Increment", key, "increment of a missing key returned %v", err)
		return
	}

	if err := w.client.Set(ctx, mctext.Item{Key: key, Value: mctext.Int(5)}); err != nil {
		w.opError(stats, "Increment", "set", key, err)
		return
	}
	n, err := w.client.Increment(ctx, key, 3)
	if err != nil {
		w.opError(stats, "Increment", "incr", key, err)
		return
	}
	if n != 8 {
		w.unexpected(stats, "Increment", key, "increment returned %d, expected 8", n)
		return
	}

	item, err := w.client.Get(ctx, key)
	if err != nil {
		w.opError(stats, "Increment", "get", key, err)
		return
	}
	if v, ok := item.Value.Int(); !ok || v != 8 {
		w.unexpected(stats, "Increment", key, "stored counter is %s, expected 8", item.Value)
		return
	}
	stats.successes.Add(1)
}

func checkDecrement(ctx context.Context, w *worker, stats *Stats) {
	key := testKey("decr", w.id, 0)

	if err := w.client.Set(ctx, mctext.Item{Key: key, Value: mctext.Int(10)}); err != nil {
		w.opError(stats, "Decrement", "set", key, err)
		return
	}

	n, err := w.client.Decrement(ctx, key, 3)
	if err != nil {
		w.opError(stats, "Decrement", "decr", key, err)
		return
	}
	stats.operations.Add(1)
	if n != 7 {
		w.unexpected(stats, "Decrement", key, "decrement returned %d, expected 7", n)
		return
	}

	n, err = w.client.Decrement(ctx, key, 100)
	if err != nil {
		w.opError(stats, "Decrement", "decr", key, err)
		return
	}
	if n != 0 {
		w.unexpected(stats, "Decrement", key, "decrement below zero returned %d, expected 0", n)
		return
	}
	stats.successes.Add(1)
}

func checkAppendPrepend(ctx context.Context, w *worker, stats *Stats) {
	key := testKey("concat", w.id, rand.IntN(100))

	if err := w.deleteIfExists(ctx, key); err != nil {
		w.opError(stats, "AppendPrepend", "delete", key, err)
		return
	}

	stored, err := w.client.Append(ctx, mctext.Item{Key: key, Value: mctext.String("x")})
	if err != nil {
		w.opError(stats, "AppendPrepend", "append", key, err)
		return
	}
	stats.operations.Add(1)
	if stored {
		w.unexpected(stats, "AppendPrepend", key, "append to a missing key was stored")
		return
	}

	if err := w.client.Set(ctx, mctext.Item{Key: key, Value: mctext.String("b")}); err != nil {
		w.opError(stats, "AppendPrepend", "set", key, err)
		return
	}
	if _, err := w.client.Append(ctx, mctext.Item{Key: key, Value: mctext.String("c")}); err != nil {
		w.opError(stats, "AppendPrepend", "append", key, err)
		return
	}
	if _, err := w.client.Prepend(ctx, mctext.Item{Key: key, Value: mctext.String("a")}); err != nil {
		w.opError(stats, "AppendPrepend", "prepend", key, err)
		return
	}

	item, err := w.client.Get(ctx, key)
	if err != nil {
		w.opError(stats, "AppendPrepend", "get", key, err)
		return
	}
	if got := string(item.Value.Bytes()); got != "abc" {
		w.unexpected(stats, "AppendPrepend", key, "value is %q, expected \"abc\"", got)
		return
	}
	stats.successes.Add(1)
}

func checkExpiration(ctx context.Context, w *worker, stats *Stats) {
	key := testKey("expire", w.id, rand.IntN(100))

	// A negative expiration expires the item immediately
	if err := w.client.Set(ctx, mctext.Item{Key: key, Value: mctext.String("gone"), Expiration: -1}); err != nil {
		w.opError(stats, "Expiration", "set", key, err)
		return
	}
	item, err := w.client.Get(ctx, key)
	if err != nil {
		w.opError(stats, "Expiration", "get", key, err)
		return
	}
	stats.operations.Add(1)
	if item.Found {
		w.unexpected(stats, "Expiration", key, "expired item was returned")
		return
	}

	touched, err := w.client.Touch(ctx, key, 60)
	if err != nil {
		w.opError(stats, "Expiration", "touch", key, err)
		return
	}
	if touched {
		w.unexpected(stats, "Expiration", key, "touch of an expired item succeeded")
		return
	}

	if err := w.client.Set(ctx, mctext.Item{Key: key, Value: mctext.String("kept"), Expiration: 60}); err != nil {
		w.opError(stats, "Expiration", "set", key, err)
		return
	}
	touched, err = w.client.Touch(ctx, key, 120)
	if err != nil {
		w.opError(stats, "Expiration", "touch", key, err)
		return
	}
	if !touched {
		w.unexpected(stats, "Expiration", key, "touch of a live item failed")
		return
	}
	stats.successes.Add(1)
}

type record struct {
	Worker   int               `json:"worker"`
	Sequence int               `json:"sequence"`
	Labels   map[string]string `json:"labels"`
	Checksum uint64            `json:"checksum"`
}

func checkStructured(ctx context.Context, w *worker, stats *Stats) {
	seq := rand.IntN(1000)
	key := testKey("struct", w.id, seq)

	in := record{Worker: w.id, Sequence: seq, Labels: map[string]string{"check": "structured"}}
	in.Checksum = xxh3.HashString(fmt.Sprintf("%d/%d", in.Worker, in.Sequence))

	if err := w.client.Set(ctx, mctext.Item{Key: key, Value: mctext.Object(in)}); err != nil {
		w.opError(stats, "Structured", "set", key, err)
		return
	}

	item, err := w.client.Get(ctx, key)
	if err != nil {
		w.opError(stats, "Structured", "get", key, err)
		return
	}
	stats.operations.Add(1)
	if item.Flags != mctext.FlagSerialized {
		w.unexpected(stats, "Structured", key, "flags are %d, expected %d", item.Flags, mctext.FlagSerialized)
		return
	}

	var out record
	if err := item.Value.Decode(&out); err != nil {
		w.unexpected(stats, "Structured", key, "decode failed: %v", err)
		return
	}
	if out.Checksum != in.Checksum || out.Labels["check"] != "structured" {
		w.unexpected(stats, "Structured", key, "decoded %+v, expected %+v", out, in)
		return
	}
	stats.successes.Add(1)
}

func checkLargeValues(ctx context.Context, w *worker, stats *Stats) {
	key := testKey("large", w.id, rand.IntN(10))
	value := payload(50000 + rand.IntN(50000))

	if err := w.client.Set(ctx, mctext.Item{Key: key, Value: mctext.Raw(value)}); err != nil {
		w.opError(stats, "LargeValues", "set", key, err)
		return
	}

	item, err := w.client.Get(ctx, key)
	if err != nil {
		w.opError(stats, "LargeValues", "get", key, err)
		return
	}
	stats.operations.Add(1)

	if !item.Found {
		w.unexpected(stats, "LargeValues", key, "key not found after set")
		return
	}
	if len(item.Value.Bytes()) != len(value) {
		w.unexpected(stats, "LargeValues", key, "size mismatch: expected %d, got %d", len(value), len(item.Value.Bytes()))
		return
	}
	if err := verifyPayload(item.Value.Bytes()); err != nil {
		w.unexpected(stats, "LargeValues", key, "%v", err)
		return
	}
	stats.successes.Add(1)
}

func checkMixed(ctx context.Context, w *worker, stats *Stats) {
	n := rand.IntN(50)
	key := testKey("mixed", w.id, n)

	var err error
	switch rand.IntN(5) {
	case 0:
		err = w.client.Set(ctx, mctext.Item{Key: key, Value: mctext.Raw(payload(64))})
	case 1:
		var item mctext.Item
		item, err = w.client.Get(ctx, key)
		if err == nil && !item.Found {
			stats.misses.Add(1)
		}
		if err == nil && item.Found && item.Flags == mctext.FlagRaw {
			if verr := verifyPayload(item.Value.Bytes()); verr != nil {
				w.unexpected(stats, "Mixed", key, "%v", verr)
				return
			}
		}
	case 2:
		err = w.deleteIfExists(ctx, key)
	case 3:
		key = testKey("mixed-counter", w.id, n%10)
		_, err = w.client.Increment(ctx, key, uint64(rand.IntN(10)+1))
		if errors.Is(err, mctext.ErrNotFound) {
			_, err = w.client.Add(ctx, mctext.Item{Key: key, Value: mctext.Int(0)})
		}
	case 4:
		_, err = w.client.Add(ctx, mctext.Item{Key: key, Value: mctext.Raw(payload(64))})
	}

	if err != nil {
		w.opError(stats, "Mixed", "mixed", key, err)
		return
	}
	stats.operations.Add(1)
	stats.successes.Add(1)
}
