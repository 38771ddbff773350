// Package timeline models the editable clip timeline and maps between the
// original (source file) and edited (contiguous, user-ordered) time domains.
//
// Timeline carries the edit operations that change what the backend plays:
// clip reorder, clip delete/restore, word delete/restore, split and merge.
// Word deletion is text-only: a clip always lasts originalEnd-originalStart,
// and deleted words are emitted to the backend as spacers so they are never
// highlighted.
//
// Mapper is an immutable projection of one timeline version. It owns the
// edited bounds of every active clip, the binary-search segment lookup table
// and the wire EDL. Build a new Mapper after every edit.
package timeline
