package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/formatreader/internal/bytesource"
	"github.com/zsiec/formatreader/internal/config"
	"github.com/zsiec/formatreader/internal/media"
	"github.com/zsiec/formatreader/internal/parser"
)

const probeContentType = "test/probe"

// byteParser reports one text track and one sample per source byte.
type byteParser struct {
	mu     sync.Mutex
	onInit parser.InitializationFunc
	onData parser.MediaDataFunc
}

func (p *byteParser) SetInitializationCallback(f parser.InitializationFunc) {
	p.mu.Lock()
	p.onInit = f
	p.mu.Unlock()
}

func (p *byteParser) SetErrorCallback(parser.ErrorFunc) {}

func (p *byteParser) SetMediaDataCallback(f parser.MediaDataFunc) {
	p.mu.Lock()
	p.onData = f
	p.mu.Unlock()
}

func (p *byteParser) ResetState() {}

func (p *byteParser) AppendData(ctx context.Context, src bytesource.Source) {
	p.mu.Lock()
	onInit, onData := p.onInit, p.onData
	p.mu.Unlock()
	if onInit == nil {
		return
	}

	acked := make(chan struct{})
	onInit(parser.InitSegment{
		Duration: media.NewTime(src.Size(), 1),
		Text:     []parser.TrackDescriptor{{ID: 7, Kind: media.KindText, Codec: "id3"}},
	}, func() { close(acked) })
	select {
	case <-acked:
	case <-ctx.Done():
		return
	}
	for i := int64(0); i < src.Size() && onData != nil; i++ {
		onData(media.Sample{Ranges: []media.ByteRange{{Offset: i, Length: 1}}}, 7, media.KindText)
	}
}

func init() {
	parser.Register(probeContentType, func() parser.Parser { return &byteParser{} })
}

func TestRunProbe(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "in.bin")
	if err := os.WriteFile(path, []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	err := runProbe(context.Background(), &out, path, probeOptions{
		contentType: probeContentType,
		timeout:     5 * time.Second,
		samples:     true,
	})
	if err != nil {
		t.Fatal(err)
	}

	var report probeReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if report.Size != 5 || report.Duration == nil || *report.Duration != 5 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Tracks) != 1 {
		t.Fatalf("got %d tracks, want 1", len(report.Tracks))
	}
	tr := report.Tracks[0]
	if tr.ID != 7 || tr.Kind != "text" || tr.Codec != "id3" || tr.Samples == nil || *tr.Samples != 5 {
		t.Errorf("track = %+v", tr)
	}
}

func TestRunProbeErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "in.bin")
	if err := os.WriteFile(path, []byte{0}, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		ct   string
		want string
	}{
		{"missing file", filepath.Join(dir, "nope"), probeContentType, "bytesource"},
		{"unsupported type", path, "video/x-none", "allocation failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := runProbe(context.Background(), &bytes.Buffer{}, tt.path, probeOptions{contentType: tt.ct, timeout: time.Second})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestApplyFlags(t *testing.T) {
	t.Parallel()

	cmd := newServeCmd()
	if err := cmd.ParseFlags([]string{"--api-addr", ":1", "--query-timeout", "2s", "--workers", "9", "--media-root", "/srv/media"}); err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	cfg.H3Addr = ":env"
	applyFlags(cmd, &cfg, flagValues(t, cmd))

	if cfg.APIAddr != ":1" || cfg.QueryTimeout != 2*time.Second || cfg.ParseWorkers != 9 || cfg.MediaRoot != "/srv/media" {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.H3Addr != ":env" {
		t.Errorf("unset flag overrode env value: H3Addr = %q", cfg.H3Addr)
	}
}

func flagValues(t *testing.T, cmd *cobra.Command) config.Config {
	t.Helper()
	fs := cmd.Flags()
	api, _ := fs.GetString("api-addr")
	timeout, _ := fs.GetDuration("query-timeout")
	workers, _ := fs.GetInt("workers")
	root, _ := fs.GetString("media-root")
	return config.Config{APIAddr: api, QueryTimeout: timeout, ParseWorkers: workers, MediaRoot: root}
}
