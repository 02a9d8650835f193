package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestPushStreamID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path, key, want string
	}{
		{"/tmp/movie.ts", "", "live/movie"},
		{"clip.m2ts", "", "live/clip"},
		{"noext", "", "live/noext"},
		{"/tmp/movie.ts", "cam1", "live/cam1"},
	}
	for _, tt := range tests {
		if got := pushStreamID(tt.path, tt.key); got != tt.want {
			t.Errorf("pushStreamID(%q, %q) = %q, want %q", tt.path, tt.key, got, tt.want)
		}
	}
}

type chunkWriter struct {
	bytes.Buffer
	writes []int
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.writes = append(w.writes, len(p))
	return w.Buffer.Write(p)
}

func TestPacedCopyChunks(t *testing.T) {
	t.Parallel()

	src := bytes.Repeat([]byte{0x47}, pushChunk*2+100)
	var w chunkWriter
	n, err := pacedCopy(context.Background(), &w, bytes.NewReader(src), 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(src)) || !bytes.Equal(w.Bytes(), src) {
		t.Fatalf("copied %d bytes, want %d", n, len(src))
	}
	want := []int{pushChunk, pushChunk, 100}
	if len(w.writes) != len(want) {
		t.Fatalf("writes = %v, want %v", w.writes, want)
	}
	for i := range want {
		if w.writes[i] != want[i] {
			t.Errorf("write %d = %d bytes, want %d", i, w.writes[i], want[i])
		}
	}
}

func TestPacedCopyRate(t *testing.T) {
	t.Parallel()

	src := make([]byte, pushChunk*2)
	start := time.Now()
	if _, err := pacedCopy(context.Background(), &bytes.Buffer{}, bytes.NewReader(src), int64(len(src))*10); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("copy took %v, want at least ~100ms at the configured rate", elapsed)
	}
}

func TestPacedCopyCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pacedCopy(ctx, &bytes.Buffer{}, bytes.NewReader(make([]byte, 10)), 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
