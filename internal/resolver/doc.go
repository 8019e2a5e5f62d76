package resolver

// Package resolver turns a video URL into metadata and a list of candidate
// streams. The YouTube implementation is backed by github.com/kkdai/youtube.
