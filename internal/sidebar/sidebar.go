// Package sidebar holds the symbol index of the fanotify binding: the table a
// documentation front end renders as its sidebar, listing public symbols by
// category with a one-line summary each.
package sidebar

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Category groups entries in the index.
type Category string

const (
	// Func lists functions.
	Func Category = "fn"
	// Static lists package level variables.
	Static Category = "static"
	// Trait lists interfaces and type constraints.
	Trait Category = "trait"
)

func (c Category) valid() bool {
	switch c {
	case Func, Static, Trait:
		return true
	}
	return false
}

var (
	// ErrUnknownCategory indicates a category other than fn, static or trait
	ErrUnknownCategory = errors.New("unknown category")
	// ErrDuplicateName indicates a name listed twice within one category
	ErrDuplicateName = errors.New("duplicate name")
	// ErrEmptyDescription indicates an entry without a summary
	ErrEmptyDescription = errors.New("empty description")
)

// Entry is a symbol name and its one-line description. It is encoded as a
// two element JSON array.
type Entry struct {
	Name        string
	Description string
}

// MarshalJSON implements json.Marshaler.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.Name, e.Description})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Entry) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("entry must be a [name, description] pair, got %d elements", len(pair))
	}
	e.Name, e.Description = pair[0], pair[1]
	return nil
}

// Index maps a category to its ordered entries.
type Index map[Category][]Entry

// Validate checks that only known categories are present, that names are
// unique within a category and that every description is non-empty.
func (ix Index) Validate() error {
	var errs []error
	for _, c := range ix.Categories() {
		if !c.valid() {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownCategory, c))
			continue
		}
		seen := make(map[string]bool, len(ix[c]))
		for _, e := range ix[c] {
			if seen[e.Name] {
				errs = append(errs, fmt.Errorf("%w: %s %q", ErrDuplicateName, c, e.Name))
			}
			seen[e.Name] = true
			if e.Description == "" {
				errs = append(errs, fmt.Errorf("%w: %s %q", ErrEmptyDescription, c, e.Name))
			}
		}
	}
	return errors.Join(errs...)
}

// Categories returns the categories present in the index in sorted order.
func (ix Index) Categories() []Category {
	categories := make([]Category, 0, len(ix))
	for c := range ix {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	return categories
}

// Names returns the entry names of a category in index order.
func (ix Index) Names(c Category) []string {
	names := make([]string, 0, len(ix[c]))
	for _, e := range ix[c] {
		names = append(names, e.Name)
	}
	return names
}

// Lookup finds the entry called name.
func (ix Index) Lookup(name string) (Category, Entry, bool) {
	for _, c := range ix.Categories() {
		for _, e := range ix[c] {
			if e.Name == name {
				return c, e, true
			}
		}
	}
	return "", Entry{}, false
}

const (
	scriptPrefix = "initSidebarItems("
	scriptSuffix = ");"
)

// WriteScript writes the index in the form loaded by the documentation
// front end: initSidebarItems({...});
func (ix Index) WriteScript(w io.Writer) error {
	b, err := json.Marshal(ix)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s%s%s", scriptPrefix, b, scriptSuffix)
	return err
}

// ParseScript reads an index written by WriteScript.
func ParseScript(script []byte) (Index, error) {
	script = bytes.TrimSpace(script)
	if !bytes.HasPrefix(script, []byte(scriptPrefix)) || !bytes.HasSuffix(script, []byte(scriptSuffix)) {
		return nil, fmt.Errorf("not a sidebar script")
	}
	body := script[len(scriptPrefix) : len(script)-len(scriptSuffix)]
	var ix Index
	if err := json.Unmarshal(body, &ix); err != nil {
		return nil, fmt.Errorf("decoding sidebar items: %w", err)
	}
	return ix, nil
}

// Fanotify returns the index of the fanotify binding. Names are the kernel
// interface names each Go symbol binds.
func Fanotify() Index {
	return Index{
		Func: {
			{"fanotify_close", "Closes a notification group or an event file descriptor (Close)."},
			{"fanotify_init", "Initializes a new fanotify group and returns a file descriptor for its event queue (Init)."},
			{"fanotify_mark", "Adds, removes, or modifies an fanotify mark on a filesystem object (Mark)."},
			{"fanotify_read", "Reads a buffer of event metadata from the notification group (Read)."},
		},
		Static: {
			{"FAN_EVENT_BUFFER_LEN", "Number of event metadata records the read buffer holds (EventBufferLen)."},
		},
		Trait: {
			{"Path", "Types that convert to a pathname passed to fanotify_mark; not a path/filepath value."},
		},
	}
}
