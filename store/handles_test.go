package store

import (
	"sync"
	"testing"
	"time"
)

func testRecord(path string) *Record {
	rec := NewRecord(path, 0o100644, "")
	rec.Rev = "1-test"
	return rec
}

func TestHandleTableRefcounting(t *testing.T) {
	ht := newHandleTable()
	rec := testRecord("/f")

	if _, ok := ht.openCached("/f"); ok {
		t.Fatalf("openCached() on an empty table reported a hit")
	}
	ht.insert("/f", rec)
	if _, ok := ht.openCached("/f"); !ok {
		t.Fatalf("openCached() after insert missed")
	}

	if evicted, ok := ht.release("/f"); !ok || evicted {
		t.Errorf("first release = (evicted=%v, ok=%v), want (false, true)", evicted, ok)
	}
	if evicted, ok := ht.release("/f"); !ok || !evicted {
		t.Errorf("last release = (evicted=%v, ok=%v), want (true, true)", evicted, ok)
	}
	if _, ok := ht.release("/f"); ok {
		t.Errorf("release() past zero reported ok")
	}
	if ht.len() != 0 {
		t.Errorf("len() = %d, want 0", ht.len())
	}
}

func TestHandleTableSnapshotsAreIsolated(t *testing.T) {
	ht := newHandleTable()
	ht.insert("/f", testRecord("/f"))

	snap, ok := ht.snapshot("/f")
	if !ok {
		t.Fatalf("snapshot() missed")
	}
	snap.Inode.Mode = 0
	snap.Rev = "tampered"

	again, _ := ht.snapshot("/f")
	if again.Rev == "tampered" || again.Inode.Mode == 0 {
		t.Errorf("mutating a returned snapshot leaked into the table")
	}
	ht.release("/f")
}

func TestHandleTableContentCaching(t *testing.T) {
	ht := newHandleTable()
	rec := testRecord("/f")
	ht.insert("/f", rec)

	if _, _, have, ok := ht.content("/f"); !ok || have {
		t.Fatalf("content() on a fresh entry = (have=%v, ok=%v), want (false, true)", have, ok)
	}

	ht.fill("/f", rec.Rev, []byte("cached"))
	_, data, have, _ := ht.content("/f")
	if !have || string(data) != "cached" {
		t.Errorf("content() after fill = (%q, have=%v), want (%q, true)", data, have, "cached")
	}

	// A fill against a superseded revision must be dropped.
	newer := rec.Clone()
	newer.Rev = "2-test"
	ht.reset("/f", newer)
	ht.fill("/f", rec.Rev, []byte("stale"))
	_, data, have, _ = ht.content("/f")
	if have {
		t.Errorf("stale fill was kept: %q", data)
	}

	ht.setContent("/f", newer, []byte("written"))
	got, data, have, _ := ht.content("/f")
	if !have || string(data) != "written" || got.Rev != "2-test" {
		t.Errorf("content() after setContent = (rev=%q, %q, have=%v), want (2-test, written, true)",
			got.Rev, data, have)
	}
}

func TestHandleTableRename(t *testing.T) {
	ht := newHandleTable()
	ht.insert("/old", testRecord("/old"))

	ht.rename("/old", "/new")
	if _, ok := ht.snapshot("/old"); ok {
		t.Errorf("old path still has an entry after rename")
	}
	snap, ok := ht.snapshot("/new")
	if !ok {
		t.Fatalf("new path has no entry after rename")
	}
	if snap.Inode.Path != "/new" {
		t.Errorf("snapshot path = %q, want %q", snap.Inode.Path, "/new")
	}
	if evicted, ok := ht.release("/new"); !ok || !evicted {
		t.Errorf("release at new path = (evicted=%v, ok=%v), want (true, true)", evicted, ok)
	}
}

// Many goroutines hammering open and release on the same path must leave
// the table empty and must not deadlock.
func TestHandleTableConcurrentOpenRelease(t *testing.T) {
	ht := newHandleTable()
	rec := testRecord("/shared")

	done := make(chan bool, 1)
	go func() {
		var wg sync.WaitGroup
		for range 32 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					if _, ok := ht.openCached("/shared"); !ok {
						ht.insert("/shared", rec)
					}
					ht.snapshot("/shared")
					ht.release("/shared")
				}
			}()
		}
		wg.Wait()
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handle table operations deadlocked")
	}
	if ht.len() != 0 {
		t.Errorf("len() after balanced open/release = %d, want 0", ht.len())
	}
}
