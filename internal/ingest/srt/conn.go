package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/zsiec/formatreader/internal/ingest"
)

// readBufferSize holds ten SRT payloads of seven 188-byte TS packets.
const readBufferSize = 7 * 188 * 10

// latencyNs is the receiver latency handed to srtgo, 120ms.
const latencyNs = 120_000_000

// StreamKey derives the ingest key from an SRT stream id. Both plain ids
// ("live/cam1", "/cam1") and the access-control form
// "#!::r=live/cam1,m=publish" are understood. publish is false when the id
// asks for any mode other than publish.
func StreamKey(streamID string) (key string, publish bool) {
	resource, mode := streamID, "publish"
	if rest, ok := strings.CutPrefix(streamID, "#!::"); ok {
		resource = ""
		for _, kv := range strings.Split(rest, ",") {
			k, v, _ := strings.Cut(kv, "=")
			switch k {
			case "r":
				resource = v
			case "m":
				mode = v
			}
		}
	}

	resource = strings.TrimPrefix(resource, "/")
	resource = strings.TrimPrefix(resource, "live/")
	if resource == "" {
		resource = "default"
	}
	return resource, mode == "publish"
}

// drain spools r into w until the connection ends, then unregisters the
// stream, which seals its spool.
func drain(ctx context.Context, registry *ingest.Registry, log *slog.Logger, r io.Reader, stream *ingest.Stream, w io.Writer) {
	defer func() {
		registry.Unregister(stream.Key)
		st := stream.IngestStats()
		log.Info("connection closed", "stream_key", stream.Key, "bytes", st.BytesReceived,
			"reads", st.ReadCount, "uptime_ms", st.UptimeMs)
	}()

	if err := spool(ctx, r, stream, w); err != nil && ctx.Err() == nil {
		log.Debug("ingest stopped", "stream_key", stream.Key, "error", err)
	}
}

// spool copies r into w until EOF, a read or write error, or ctx is done.
func spool(ctx context.Context, r io.Reader, stream *ingest.Stream, w io.Writer) error {
	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			stream.RecordRead(n)
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("spool write: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
	}
}
