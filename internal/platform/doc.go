package platform

// Package platform contains OS/platform integration and external tooling glue:
// output path derivation, filesystem helpers, and playlist expansion via ytdlp.
