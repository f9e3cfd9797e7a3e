package store

import (
	"sync"
)

// inodeNumbers hands out stable process-local inode numbers for document
// ids. CouchDB ids are strings but the kernel wants a uint64, so each id is
// assigned the next number the first time it is seen and keeps it for the
// life of the process. The root document is pinned to inode 1.
type inodeNumbers struct {
	mu   sync.Mutex
	next uint64
	byID map[string]uint64
}

func newInodeNumbers() *inodeNumbers {
	return &inodeNumbers{
		next: 1,
		byID: map[string]uint64{RootID: 1},
	}
}

// For returns the inode number for a document id, allocating one on first
// use. Could use the atomic package for the counter, but a single lock is
// simpler and the map needs one anyway.
func (n *inodeNumbers) For(id string) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if num, ok := n.byID[id]; ok {
		return num
	}
	n.next++
	n.byID[id] = n.next
	return n.next
}

// Len reports how many document ids have numbers assigned.
func (n *inodeNumbers) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.byID)
}
