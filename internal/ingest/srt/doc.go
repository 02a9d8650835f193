// Package srt feeds the ingest registry over SRT. A Server accepts
// publishers on a local port; a Caller dials remote listeners and pulls
// from them. Either way the transport stream is spooled under its stream
// key and handed to a reader when the connection closes.
package srt
