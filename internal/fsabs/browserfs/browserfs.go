// Package browserfs documents the fsabs.FS contract a browser-origin
// host (an Origin Private File System or IndexedDB-backed store run
// inside the editor UI) is expected to satisfy. The editor is an
// external collaborator outside this module's build — FS is never
// driven from here — but the type exists so fsabs's decorators
// (eventfs, crdtfs, safewrite) compile against the same interface
// regardless of which concrete backend a participant runs, never
// importing a disk-specific type to do it.
package browserfs

import (
	"context"
	"errors"

	"github.com/noteflow/syncd/internal/fsabs"
)

// ErrUnimplemented is returned by every FS method: this package is a
// compile-time contract, not a runnable backend. A real implementation
// lives in the browser host's own JavaScript/WASM bridge.
var ErrUnimplemented = errors.New("browserfs: not implemented outside the browser host")

// FS is a placeholder fsabs.FS satisfied only to document the contract;
// calling any method fails with ErrUnimplemented.
type FS struct{}

var _ fsabs.FS = FS{}

func (FS) Read(context.Context, string) ([]byte, error) {
	return nil, ErrUnimplemented
}

func (FS) Write(context.Context, string, []byte) error {
	return ErrUnimplemented
}

func (FS) Move(context.Context, string, string) error {
	return ErrUnimplemented
}

func (FS) Delete(context.Context, string) error {
	return ErrUnimplemented
}

func (FS) Exists(context.Context, string) (bool, error) {
	return false, ErrUnimplemented
}

func (FS) Stat(context.Context, string) (fsabs.Entry, error) {
	return fsabs.Entry{}, ErrUnimplemented
}

func (FS) List(context.Context, string) ([]fsabs.Entry, error) {
	return nil, ErrUnimplemented
}

func (FS) MarkSyncWriteStart(string) {}

func (FS) MarkSyncWriteEnd(string) {}
