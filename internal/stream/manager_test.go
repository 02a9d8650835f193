package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zsiec/formatreader/internal/bytesource"
	"github.com/zsiec/formatreader/internal/media"
	"github.com/zsiec/formatreader/internal/parser"
	"github.com/zsiec/formatreader/internal/session"
)

const testContentType = "test/stream-manager"

// oneTrackParser reports a single video track and no samples.
type oneTrackParser struct {
	onInit parser.InitializationFunc
}

func (p *oneTrackParser) SetInitializationCallback(f parser.InitializationFunc) { p.onInit = f }
func (p *oneTrackParser) SetErrorCallback(parser.ErrorFunc)                      {}
func (p *oneTrackParser) SetMediaDataCallback(parser.MediaDataFunc)              {}
func (p *oneTrackParser) ResetState()                                            {}

func (p *oneTrackParser) AppendData(ctx context.Context, src bytesource.Source) {
	if p.onInit == nil {
		return
	}
	done := make(chan struct{})
	p.onInit(parser.InitSegment{
		Duration: media.NewTime(src.Size(), 1),
		Video:    []parser.TrackDescriptor{{ID: 1, Kind: media.KindVideo}},
	}, func() { close(done) })
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func init() {
	parser.Register(testContentType, func() parser.Parser { return &oneTrackParser{} })
}

type closeCounter struct{ n int }

func (c *closeCounter) Close() error {
	c.n++
	return nil
}

func newManager() *Manager {
	return NewManager(session.Config{ContentType: testContentType}, nil)
}

func open(t *testing.T, m *Manager, key string) *Reader {
	t.Helper()
	r, err := m.Open(OpenRequest{Key: key, Origin: OriginFile, Location: key + ".ts", Source: bytesource.FromBytes(make([]byte, 42))})
	if err != nil {
		t.Fatalf("Open(%q): %v", key, err)
	}
	return r
}

func TestManagerOpenAndGet(t *testing.T) {
	t.Parallel()
	m := newManager()
	defer m.Close()

	r := open(t, m, "reader-a")
	if r.Key != "reader-a" || r.StartedAt.IsZero() {
		t.Errorf("reader = %+v", r)
	}
	got, ok := m.Get("reader-a")
	if !ok || got != r {
		t.Fatal("Get did not return the opened reader")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, err := r.Session.Duration(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if d.Seconds() != 42 {
		t.Errorf("duration = %v, want 42s", d)
	}
	if info := r.Info(); info.Size != 42 || info.Origin != OriginFile || info.Stats.Generation != 1 {
		t.Errorf("info = %+v", info)
	}
}

func TestManagerOpenDuplicate(t *testing.T) {
	t.Parallel()
	m := newManager()
	defer m.Close()

	open(t, m, "dup")
	_, err := m.Open(OpenRequest{Key: "dup", Source: bytesource.FromBytes(nil)})
	if !errors.Is(err, ErrExists) {
		t.Fatalf("err = %v, want ErrExists", err)
	}
}

func TestManagerOpenUnsupported(t *testing.T) {
	t.Parallel()
	m := NewManager(session.Config{ContentType: "test/none"}, nil)
	defer m.Close()

	_, err := m.Open(OpenRequest{Key: "x", Source: bytesource.FromBytes(nil)})
	if !errors.Is(err, session.ErrAllocationFailure) {
		t.Fatalf("err = %v, want ErrAllocationFailure", err)
	}
	if _, ok := m.Get("x"); ok {
		t.Error("failed reader was registered")
	}
}

func TestManagerRemove(t *testing.T) {
	t.Parallel()
	m := newManager()
	defer m.Close()

	c := &closeCounter{}
	r, err := m.Open(OpenRequest{Key: "gone", Source: bytesource.FromBytes([]byte{1}), Closer: c})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Remove("gone"); err != nil {
		t.Fatal(err)
	}
	if c.n != 1 {
		t.Errorf("closer called %d times, want 1", c.n)
	}
	if _, err := r.Session.Tracks(context.Background()); !errors.Is(err, session.ErrClosed) {
		t.Errorf("Tracks after remove = %v, want ErrClosed", err)
	}
	if err := m.Remove("gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove = %v, want ErrNotFound", err)
	}
}

func TestManagerListOrder(t *testing.T) {
	t.Parallel()
	m := newManager()
	defer m.Close()

	for _, key := range []string{"first", "second", "third"} {
		open(t, m, key)
		time.Sleep(2 * time.Millisecond)
	}
	list := m.List()
	if len(list) != 3 {
		t.Fatalf("List len = %d, want 3", len(list))
	}
	for i, want := range []string{"first", "second", "third"} {
		if list[i].Key != want {
			t.Errorf("List[%d] = %q, want %q", i, list[i].Key, want)
		}
	}
}

func TestManagerClose(t *testing.T) {
	t.Parallel()
	m := newManager()
	open(t, m, "a")
	open(t, m, "b")
	m.Close()
	if n := len(m.List()); n != 0 {
		t.Errorf("List after Close = %d readers", n)
	}
}
