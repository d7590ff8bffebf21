package recorder

import "github.com/taciclei/magneto-serge-sub000/pkg/cassette"

// HookFunc is invoked at a given stage of the record pipeline. Before-hooks
// may mutate the interaction they are given; after-hooks must treat it as
// read-only, enforced by convention rather than the type system, the same
// contract go-vcr's HookFunc carries (see RecordHooks.AfterRecord). A
// returned error aborts the append and surfaces as a recording error.
type HookFunc func(i *cassette.Interaction) error

// RecordHooks groups the hooks invoked immediately before and after an
// interaction is appended to the in-memory cassette, descended from
// go-vcr's AfterCaptureHook/BeforeSaveHook.
type RecordHooks struct {
	BeforeRecord []HookFunc
	AfterRecord  []HookFunc
}

// AddBeforeRecord registers a mutating hook run before append.
func (h *RecordHooks) AddBeforeRecord(fn HookFunc) {
	h.BeforeRecord = append(h.BeforeRecord, fn)
}

// AddAfterRecord registers a non-mutating hook run after append.
func (h *RecordHooks) AddAfterRecord(fn HookFunc) {
	h.AfterRecord = append(h.AfterRecord, fn)
}

func (h *RecordHooks) runBeforeRecord(i *cassette.Interaction) error {
	for _, fn := range h.BeforeRecord {
		if err := fn(i); err != nil {
			return err
		}
	}
	return nil
}

func (h *RecordHooks) runAfterRecord(i *cassette.Interaction) error {
	for _, fn := range h.AfterRecord {
		if err := fn(i); err != nil {
			return err
		}
	}
	return nil
}
