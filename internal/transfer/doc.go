package transfer

// Package transfer copies a lazily produced sequence of byte chunks into a
// sink while reporting progress after every chunk. Only one chunk is held in
// memory at a time.
