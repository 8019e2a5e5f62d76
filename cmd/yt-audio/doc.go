// Command yt-audio downloads the audio track of YouTube videos and playlists.
//
//	yt-audio get <url>... [--format m4a|mp3] [--retry-failed N]
//	yt-audio history [--limit N]
package main
