package ui

// Package ui renders download progress in the terminal. It subscribes to the
// download registry, drives an aggregate progress bar on interactive
// terminals and falls back to structured log lines otherwise.
