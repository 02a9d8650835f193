package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	srt "github.com/zsiec/srtgo"
)

// pushChunk is seven transport packets, the usual SRT payload for MPEG-TS.
const pushChunk = 188 * 7

type pushOptions struct {
	addr string
	key  string
	rate int64 // bytes per second, 0 sends unpaced
}

func newPushCmd() *cobra.Command {
	var opts pushOptions
	cmd := &cobra.Command{
		Use:   "push <file>",
		Short: "Publish a file to an SRT listener once, then disconnect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(cmd.Context(), args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:6000", "SRT listener address")
	cmd.Flags().StringVar(&opts.key, "key", "", "stream key (default: file name without extension)")
	cmd.Flags().Int64Var(&opts.rate, "rate", 0, "pace the upload at this many bytes per second")
	return cmd
}

// pushStreamID returns the SRT stream id for publishing path under key.
func pushStreamID(path, key string) string {
	if key == "" {
		base := filepath.Base(path)
		key = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return "live/" + key
}

func runPush(ctx context.Context, path string, opts pushOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg := srt.DefaultConfig()
	cfg.StreamID = pushStreamID(path, opts.key)

	conn, err := srt.Dial(opts.addr, cfg)
	if err != nil {
		return fmt.Errorf("srt dial %s: %w", opts.addr, err)
	}
	defer conn.Close()

	slog.Info("pushing file", "path", path, "addr", opts.addr, "stream_id", cfg.StreamID)
	n, err := pacedCopy(ctx, conn, f, opts.rate)
	if err != nil {
		return fmt.Errorf("push %s: %w", path, err)
	}
	slog.Info("push complete", "bytes", n)
	return nil
}

// pacedCopy copies r to w in pushChunk writes, sleeping so the average rate
// stays at or below rate bytes per second.
func pacedCopy(ctx context.Context, w io.Writer, r io.Reader, rate int64) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	buf := make([]byte, pushChunk)
	start := time.Now()
	var sent int64
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return sent, werr
			}
			sent += int64(n)
			if rate > 0 {
				expected := time.Duration(float64(sent) / float64(rate) * float64(time.Second))
				if d := expected - time.Since(start); d > 0 {
					time.Sleep(d)
				}
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
	}
}
