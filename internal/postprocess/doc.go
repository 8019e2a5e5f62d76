package postprocess

// Package postprocess contains steps that run on a finished download:
// ffmpeg transcoding to MP3 and M4A metadata tagging.
