package store

import (
	"encoding/json"
	"sort"
)

// Dentry is a directory's content: the mapping from child name to child
// inode-document id, persisted verbatim as the dentry.json attachment.
// Every directory's map carries "." (itself) and ".." (its parent); the
// root maps both to its own id.
type Dentry struct {
	entries map[string]string
}

// NewDentry builds the initial map for a directory with the given self and
// parent document ids.
func NewDentry(self, parent string) Dentry {
	return Dentry{entries: map[string]string{
		".":  self,
		"..": parent,
	}}
}

func (d *Dentry) UnmarshalJSON(data []byte) error {
	var aux map[string]string
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux == nil {
		aux = make(map[string]string)
	}
	d.entries = aux
	return nil
}

// MarshalJSON writes the plain name-to-id object. encoding/json emits map keys
// in sorted order, so equal maps always serialize to identical attachments.
func (d Dentry) MarshalJSON() ([]byte, error) {
	if d.entries == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.entries)
}

// Iterate yields entries in name order.
func (d Dentry) Iterate(yield func(name, id string) bool) {
	for _, name := range d.Names() {
		if !yield(name, d.entries[name]) {
			return
		}
	}
}

// Set inserts or replaces the entry for name.
func (d *Dentry) Set(name, id string) {
	if d.entries == nil {
		d.entries = make(map[string]string)
	}
	d.entries[name] = id
}

// Remove deletes the entry for name, reporting whether it was present.
func (d *Dentry) Remove(name string) bool {
	if _, ok := d.entries[name]; !ok {
		return false
	}
	delete(d.entries, name)
	return true
}

// Get returns the child document id for name.
func (d Dentry) Get(name string) (string, bool) {
	id, ok := d.entries[name]
	return id, ok
}

func (d Dentry) Len() int { return len(d.entries) }

// Names returns all entry names in sorted order, including "." and "..".
func (d Dentry) Names() []string {
	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Children returns the entries excluding "." and "..", in name order.
func (d Dentry) Children() []string {
	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		if name == "." || name == ".." {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Empty reports whether the directory holds nothing but its "." and ".."
// entries, the precondition for removing it.
func (d Dentry) Empty() bool {
	if len(d.entries) != 2 {
		return false
	}
	_, dot := d.entries["."]
	_, dotdot := d.entries[".."]
	return dot && dotdot
}
