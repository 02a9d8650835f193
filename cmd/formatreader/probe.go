package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/formatreader/internal/bytesource"
	"github.com/zsiec/formatreader/internal/session"
)

type probeOptions struct {
	contentType string
	timeout     time.Duration
	samples     bool
}

type probeTrack struct {
	ID         uint64 `json:"id"`
	Kind       string `json:"kind"`
	Codec      string `json:"codec,omitempty"`
	Language   string `json:"language,omitempty"`
	PID        uint16 `json:"pid,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Enabled    bool   `json:"enabled"`
	Samples    *int   `json:"samples,omitempty"`
}

type probeReport struct {
	Path     string       `json:"path"`
	Size     int64        `json:"size"`
	Duration *float64     `json:"durationSeconds,omitempty"`
	Tracks   []probeTrack `json:"tracks"`
}

func newProbeCmd() *cobra.Command {
	opts := probeOptions{contentType: session.DefaultContentType}
	cmd := &cobra.Command{
		Use:   "probe <file>",
		Short: "Print the duration and tracks of a media file as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.contentType, "content-type", opts.contentType, "container content type")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "maximum time to wait for the parse")
	cmd.Flags().BoolVar(&opts.samples, "samples", false, "parse the whole file and report per-track sample counts")
	return cmd
}

func runProbe(ctx context.Context, w io.Writer, path string, opts probeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	f, err := bytesource.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sess := session.New(session.Config{Name: path, ContentType: opts.contentType}, slog.Default())
	defer sess.Close()
	if err := sess.StartParse(f); err != nil {
		return err
	}

	tracks, err := sess.Tracks(ctx)
	if err != nil {
		return fmt.Errorf("probe %s: %w", path, err)
	}

	report := probeReport{Path: path, Size: f.Size(), Tracks: make([]probeTrack, 0, len(tracks))}
	if d, err := sess.Duration(ctx); err == nil {
		secs := d.Seconds()
		report.Duration = &secs
	}
	for _, t := range tracks {
		d := t.Descriptor()
		pt := probeTrack{
			ID:         t.ID(),
			Kind:       t.Kind().String(),
			Codec:      d.Codec,
			Language:   d.Language,
			PID:        d.PID,
			Width:      d.Width,
			Height:     d.Height,
			SampleRate: d.SampleRate,
			Channels:   d.Channels,
			Enabled:    t.Enabled(),
		}
		if opts.samples {
			if err := t.Wait(ctx); err != nil {
				return fmt.Errorf("probe %s: waiting for track %d: %w", path, t.ID(), err)
			}
			n := t.SampleCount()
			pt.Samples = &n
		}
		report.Tracks = append(report.Tracks, pt)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
