package download

// Package download implements the core download pipeline: an ordered item
// registry with change subscriptions, and an engine that drives each item
// through resolve, derive path, select stream, transfer and post-process
// stages. It manages the item lifecycle, concurrency limits and progress
// propagation to observers.
