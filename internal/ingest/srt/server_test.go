package srt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/zsiec/formatreader/internal/bytesource"
	"github.com/zsiec/formatreader/internal/ingest"
)

func TestStreamKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		streamID string
		want     string
		publish  bool
	}{
		{name: "simple key", streamID: "camera1", want: "camera1", publish: true},
		{name: "leading slash", streamID: "/camera1", want: "camera1", publish: true},
		{name: "live prefix", streamID: "live/camera1", want: "camera1", publish: true},
		{name: "slash and live prefix", streamID: "/live/camera1", want: "camera1", publish: true},
		{name: "empty returns default", streamID: "", want: "default", publish: true},
		{name: "just live/ returns default", streamID: "live/", want: "default", publish: true},
		{name: "nested path preserved", streamID: "studio/camera1", want: "studio/camera1", publish: true},
		{name: "live in name preserved", streamID: "liveshow", want: "liveshow", publish: true},
		{name: "access control publish", streamID: "#!::r=live/cam2,m=publish", want: "cam2", publish: true},
		{name: "access control default mode", streamID: "#!::u=alice,r=cam3", want: "cam3", publish: true},
		{name: "access control request", streamID: "#!::r=cam4,m=request", want: "cam4", publish: false},
		{name: "access control without resource", streamID: "#!::m=publish", want: "default", publish: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, publish := StreamKey(tc.streamID)
			if got != tc.want || publish != tc.publish {
				t.Errorf("StreamKey(%q) = %q, %v; want %q, %v", tc.streamID, got, publish, tc.want, tc.publish)
			}
		})
	}
}

type chunkReader struct {
	chunks [][]byte
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, r.err
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func TestSpool(t *testing.T) {
	t.Parallel()

	reg := ingest.NewRegistry(0, nil, nil)
	stream, w, err := reg.Register("spooled", "video/mp2t")
	if err != nil {
		t.Fatal(err)
	}
	r := &chunkReader{chunks: [][]byte{{1, 2}, {3}, {4, 5, 6}}, err: io.EOF}
	if err := spool(context.Background(), r, stream, w); err != nil {
		t.Fatalf("spool: %v", err)
	}
	stats := stream.IngestStats()
	if stats.BytesReceived != 6 || stats.ReadCount != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if got := stream.Spool().Size(); got != 6 {
		t.Errorf("spool size = %d, want 6", got)
	}
}

func TestSpoolErrors(t *testing.T) {
	t.Parallel()

	reg := ingest.NewRegistry(2, nil, nil)
	stream, w, _ := reg.Register("limited", "video/mp2t")

	boom := errors.New("boom")
	if err := spool(context.Background(), &chunkReader{err: boom}, stream, w); !errors.Is(err, boom) {
		t.Errorf("read error = %v, want boom", err)
	}
	if err := spool(context.Background(), &chunkReader{chunks: [][]byte{{1, 2, 3}}}, stream, w); !errors.Is(err, bytesource.ErrLimit) {
		t.Errorf("write error = %v, want ErrLimit", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := spool(ctx, &chunkReader{}, stream, w); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled = %v, want context.Canceled", err)
	}
}

func TestPullRequestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  PullRequest
		ok   bool
	}{
		{"complete", PullRequest{Address: "10.0.0.1:6000", StreamKey: "cam"}, true},
		{"no address", PullRequest{StreamKey: "cam"}, false},
		{"no key", PullRequest{Address: "10.0.0.1:6000"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.req.Validate(); (err == nil) != tc.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestCallerStopUnknown(t *testing.T) {
	t.Parallel()

	c := NewCaller("video/mp2t", ingest.NewRegistry(0, nil, nil), nil)
	if err := c.Stop("missing"); err == nil {
		t.Error("Stop of unknown key succeeded")
	}
	if n := len(c.ActivePulls()); n != 0 {
		t.Errorf("ActivePulls = %d, want 0", n)
	}
	if err := c.Pull(context.Background(), PullRequest{StreamKey: "cam"}); err == nil {
		t.Error("Pull without address succeeded")
	}
}

func TestDrainSealsAndHandsOff(t *testing.T) {
	t.Parallel()

	sealed := make(chan *ingest.Stream, 1)
	reg := ingest.NewRegistry(0, func(s *ingest.Stream) { sealed <- s }, nil)
	stream, w, err := reg.Register("cam", "video/mp2t")
	if err != nil {
		t.Fatal(err)
	}
	drain(context.Background(), reg, slog.Default(), &chunkReader{chunks: [][]byte{{0x47, 1, 2}}, err: io.EOF}, stream, w)

	if _, ok := reg.Get("cam"); ok {
		t.Error("stream still registered after drain")
	}
	select {
	case <-stream.Done():
	default:
		t.Error("spool not sealed")
	}
	select {
	case got := <-sealed:
		if got.Spool().Size() != 3 {
			t.Errorf("sealed spool size = %d, want 3", got.Spool().Size())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onSealed not called")
	}
}

func TestServerAdmit(t *testing.T) {
	t.Parallel()

	reg := ingest.NewRegistry(0, nil, nil)
	s := NewServer(":0", "video/mp2t", reg, nil)
	if _, _, err := reg.Register("busy", "video/mp2t"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		streamID string
		admit    bool
	}{
		{"", false},
		{"live/cam", true},
		{"#!::r=live/cam,m=publish", true},
		{"#!::r=cam,m=request", false},
		{"live/busy", false},
	}
	for _, tc := range tests {
		if got := s.admit(tc.streamID) == 0; got != tc.admit {
			t.Errorf("admit(%q) = %v, want %v", tc.streamID, got, tc.admit)
		}
	}
}
