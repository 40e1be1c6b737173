package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/janelia-flyem/bfio/bio"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	val, err := s.Get(ctx, "missing").Wait(ctx)
	if err != nil {
		t.Fatalf("get of missing key should not error: %v\n", err)
	}
	if val != nil {
		t.Fatalf("expected nil value for missing key, got %v\n", val)
	}

	var futures []*Future
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("c/0/%d", i)
		futures = append(futures, s.Put(ctx, key, bytes.Repeat([]byte{byte(i)}, 100+i)))
	}
	if err := WaitAll(ctx, futures...); err != nil {
		t.Fatalf("error on puts: %v\n", err)
	}
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("c/0/%d", i)
		val, err := s.Get(ctx, key).Result()
		if err != nil {
			t.Fatalf("error on get of %q: %v\n", key, err)
		}
		if len(val) != 100+i || val[0] != byte(i) {
			t.Fatalf("bad value for %q: len %d\n", key, len(val))
		}
	}

	if _, err := s.Put(ctx, "blob", []byte("0123456789")).Result(); err != nil {
		t.Fatalf("put: %v\n", err)
	}
	part, err := s.GetRange(ctx, "blob", 3, 4).Result()
	if err != nil {
		t.Fatalf("range read: %v\n", err)
	}
	if string(part) != "3456" {
		t.Fatalf("expected range 3456, got %q\n", part)
	}
	tail, err := s.GetRange(ctx, "blob", 7, -1).Result()
	if err != nil || string(tail) != "789" {
		t.Fatalf("expected tail 789, got %q (%v)\n", tail, err)
	}
	size, err := s.Size(ctx, "blob")
	if err != nil || size != 10 {
		t.Fatalf("expected size 10, got %d (%v)\n", size, err)
	}

	keys, err := s.Keys(ctx, "c/0/1")
	if err != nil {
		t.Fatalf("keys: %v\n", err)
	}
	if len(keys) != 11 || keys[0] != "c/0/1" {
		t.Fatalf("unexpected keys with prefix c/0/1: %v\n", keys)
	}

	if err := s.Delete(ctx, "blob"); err != nil {
		t.Fatalf("delete: %v\n", err)
	}
	if err := s.Delete(ctx, "blob"); err != nil {
		t.Fatalf("second delete should be a no-op: %v\n", err)
	}
	found, err := s.Exists(ctx, "blob")
	if err != nil || found {
		t.Fatalf("expected blob to be deleted: found %t, err %v\n", found, err)
	}
}

func TestMemoryStore(t *testing.T) {
	location := "mem://storage-test"
	defer DropMemory(location)
	s, err := Open(context.Background(), location, Config{})
	if err != nil {
		t.Fatalf("can't open memory store: %v\n", err)
	}
	testStore(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v\n", err)
	}

	// Reopened memory stores see previous writes.
	s2, err := Open(context.Background(), location, Config{})
	if err != nil {
		t.Fatalf("can't reopen memory store: %v\n", err)
	}
	defer s2.Close()
	found, err := s2.Exists(context.Background(), "c/0/3")
	if err != nil || !found {
		t.Fatalf("expected key to survive reopen: %t %v\n", found, err)
	}
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "image.zarr")
	if _, err := Open(context.Background(), dir, Config{}); err == nil {
		t.Fatalf("expected error opening missing directory without create\n")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("failed open should not create %s\n", dir)
	}
	s, err := Open(context.Background(), dir, Config{Create: true, Concurrency: 4})
	if err != nil {
		t.Fatalf("can't create file store: %v\n", err)
	}
	testStore(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v\n", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "c", "0", "5")); err != nil {
		t.Fatalf("expected chunk file on disk: %v\n", err)
	}
}

func TestConcurrentPuts(t *testing.T) {
	location := "mem://storage-concurrent"
	defer DropMemory(location)
	s, err := Open(context.Background(), location, Config{Concurrency: 2})
	if err != nil {
		t.Fatalf("open: %v\n", err)
	}
	defer s.Close()
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Put(ctx, fmt.Sprintf("k%02d", i), []byte{byte(i)}).Result()
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("put error: %v\n", err)
		}
	}
	keys, err := s.Keys(ctx, "k")
	if err != nil || len(keys) != 50 {
		t.Fatalf("expected 50 keys, got %d (%v)\n", len(keys), err)
	}
}

func TestOperationsAfterClose(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, t.TempDir(), Config{Create: true})
	if err != nil {
		t.Fatalf("open: %v\n", err)
	}
	if _, err := s.Put(ctx, "a", []byte("abc")).Result(); err != nil {
		t.Fatalf("put: %v\n", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v\n", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v\n", err)
	}
	if _, err := s.Put(ctx, "b", []byte("def")).Result(); !bio.IsClosed(err) {
		t.Fatalf("expected closed error on put, got %v\n", err)
	}
	if _, err := s.Get(ctx, "a").Result(); !bio.IsClosed(err) {
		t.Fatalf("expected closed error on get, got %v\n", err)
	}
	if err := s.Delete(ctx, "a"); !bio.IsClosed(err) {
		t.Fatalf("expected closed error on delete, got %v\n", err)
	}
	if _, err := s.Exists(ctx, "a"); !bio.IsClosed(err) {
		t.Fatalf("expected closed error on exists, got %v\n", err)
	}
	if _, err := s.Keys(ctx, ""); !bio.IsClosed(err) {
		t.Fatalf("expected closed error on keys, got %v\n", err)
	}
}

func TestCloseDuringPuts(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, t.TempDir(), Config{Create: true, Concurrency: 2})
	if err != nil {
		t.Fatalf("open: %v\n", err)
	}
	var wg sync.WaitGroup
	results := make(chan error, 200)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := s.Put(ctx, fmt.Sprintf("k%d.%d", g, i), bytes.Repeat([]byte{1}, 4096)).Result()
				results <- err
			}
		}(g)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v\n", err)
	}
	wg.Wait()
	close(results)
	for err := range results {
		if err != nil && !bio.IsClosed(err) && !bio.IsStoreIO(err) {
			t.Fatalf("unexpected error from put racing close: %v\n", err)
		}
	}
}

func TestCancelledWait(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Wait(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v\n", err)
	}
	f.resolve([]byte{1}, nil)
	if v, err := f.Result(); err != nil || len(v) != 1 {
		t.Fatalf("bad resolved future: %v %v\n", v, err)
	}
}

func TestSplit(t *testing.T) {
	dir, key := Split("/data/images/cells.ome.tif")
	if dir != "/data/images" || key != "cells.ome.tif" {
		t.Fatalf("bad split of local path: %q %q\n", dir, key)
	}
	dir, key = Split("mem://tiffs/cells.tif")
	if dir != "mem://tiffs" || key != "cells.tif" {
		t.Fatalf("bad split of mem location: %q %q\n", dir, key)
	}
	if IsRemote("/tmp/x") || !IsRemote("gs://bucket/x") || !IsMemory("mem://x") {
		t.Fatalf("bad location classification\n")
	}
	if err := bio.StoreError(fmt.Errorf("boom"), "x"); !bio.IsStoreIO(err) {
		t.Fatalf("expected STORE_IO error, got %v\n", err)
	}
}
