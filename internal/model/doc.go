package model

// Package model defines domain data structures used across the app: download
// items, playlist entities, and status enums. Items change state only through
// their transition methods so a registry can apply each change atomically.
