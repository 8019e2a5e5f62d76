package history

// Package history persists finished downloads (done or failed) in a local
// BoltDB file so past runs can be listed from the command line.
