package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/segmentio/ksuid"

	"github.com/zsiec/formatreader/internal/bytesource"
	"github.com/zsiec/formatreader/internal/media"
	"github.com/zsiec/formatreader/internal/session"
	"github.com/zsiec/formatreader/internal/stream"
	"github.com/zsiec/formatreader/internal/track"
)

const (
	defaultSampleLimit = 100
	maxSampleLimit     = 1000
)

type openReaderRequest struct {
	Path string `json:"path"`
	Key  string `json:"key,omitempty"`
}

type durationResponse struct {
	Key       string  `json:"key"`
	Seconds   float64 `json:"seconds"`
	Value     int64   `json:"value"`
	Timescale int32   `json:"timescale"`
}

type trackView struct {
	ID          uint64 `json:"id"`
	Kind        string `json:"kind"`
	Codec       string `json:"codec,omitempty"`
	Language    string `json:"language,omitempty"`
	PID         uint16 `json:"pid,omitempty"`
	StreamType  uint8  `json:"streamType,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	SampleRate  int    `json:"sampleRate,omitempty"`
	Channels    int    `json:"channels,omitempty"`
	Enabled     bool   `json:"enabled"`
	SampleCount int    `json:"sampleCount"`
	Finished    bool   `json:"finished"`
}

func newTrackView(t *track.Track) trackView {
	d := t.Descriptor()
	return trackView{
		ID:          t.ID(),
		Kind:        t.Kind().String(),
		Codec:       d.Codec,
		Language:    d.Language,
		PID:         d.PID,
		StreamType:  d.StreamType,
		Width:       d.Width,
		Height:      d.Height,
		SampleRate:  d.SampleRate,
		Channels:    d.Channels,
		Enabled:     t.Enabled(),
		SampleCount: t.SampleCount(),
		Finished:    t.Finished(),
	}
}

type sampleView struct {
	Index     int               `json:"index"`
	PTS       int64             `json:"pts"`
	DTS       int64             `json:"dts"`
	Duration  int64             `json:"duration"`
	Timescale int32             `json:"timescale"`
	Keyframe  bool              `json:"keyframe,omitempty"`
	Size      int64             `json:"size"`
	Ranges    []media.ByteRange `json:"ranges,omitempty"`
	Captions  []string          `json:"captions,omitempty"`
	Data      []byte            `json:"data,omitempty"`
}

type samplesResponse struct {
	TrackID  uint64       `json:"trackId"`
	Total    int          `json:"total"`
	Finished bool         `json:"finished"`
	Offset   int          `json:"offset"`
	Samples  []sampleView `json:"samples"`
}

// statusFor maps a session query error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrValueNotAvailable):
		return http.StatusNotFound
	case errors.Is(err, session.ErrParsingFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// queryContext bounds a blocking request by the configured timeout.
func (s *Server) queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.cfg.QueryTimeout > 0 {
		return context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	}
	return context.WithCancel(r.Context())
}

func (s *Server) reader(w http.ResponseWriter, r *http.Request) (*stream.Reader, bool) {
	rd, ok := s.cfg.Readers.Get(r.PathValue("key"))
	if !ok {
		writeError(w, http.StatusNotFound, "reader not found")
		return nil, false
	}
	return rd, true
}

func (s *Server) track(w http.ResponseWriter, r *http.Request, rd *stream.Reader) (*track.Track, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid track id")
		return nil, false
	}
	ctx, cancel := s.queryContext(r)
	defer cancel()
	t, err := rd.Session.Track(ctx, id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return nil, false
	}
	return t, true
}

func (s *Server) handleListReaders(w http.ResponseWriter, _ *http.Request) {
	readers := s.cfg.Readers.List()
	resp := make([]stream.Info, len(readers))
	for i, rd := range readers {
		resp[i] = rd.Info()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpenReader(w http.ResponseWriter, r *http.Request) {
	var req openReaderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if req.Key == "" {
		req.Key = ksuid.New().String()
	}

	if s.mediaRoot == "" {
		writeError(w, http.StatusForbidden, "opening files is disabled")
		return
	}
	name, ok := s.mediaName(req.Path)
	if !ok {
		writeError(w, http.StatusForbidden, "path is outside the media root")
		return
	}

	f, err := bytesource.OpenIn(s.mediaRoot, name)
	if err != nil {
		code := http.StatusBadRequest
		switch {
		case errors.Is(err, bytesource.ErrOutsideRoot):
			code = http.StatusForbidden
		case errors.Is(err, fs.ErrNotExist):
			code = http.StatusNotFound
		}
		writeError(w, code, err.Error())
		return
	}

	rd, err := s.cfg.Readers.Open(stream.OpenRequest{
		Key:      req.Key,
		Origin:   stream.OriginFile,
		Location: req.Path,
		Source:   f,
		Closer:   f,
	})
	if err != nil {
		f.Close()
		switch {
		case errors.Is(err, stream.ErrExists):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, session.ErrAllocationFailure):
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, rd.Info())
}

// mediaName maps a requested path, absolute or relative to the media root,
// to a name local to the root.
func (s *Server) mediaName(p string) (string, bool) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(s.mediaRoot, p)
		if err != nil {
			return "", false
		}
		p = rel
	}
	p = filepath.Clean(p)
	return p, filepath.IsLocal(p)
}

func (s *Server) handleGetReader(w http.ResponseWriter, r *http.Request) {
	rd, ok := s.reader(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rd.Info())
}

func (s *Server) handleCloseReader(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.cfg.Readers.Remove(key); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "key": key})
}

func (s *Server) handleDuration(w http.ResponseWriter, r *http.Request) {
	rd, ok := s.reader(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.queryContext(r)
	defer cancel()

	d, err := rd.Session.Duration(ctx)
	if err != nil {
		// The duration of a failed parse is reported as the parse failure.
		if errors.Is(err, session.ErrValueNotAvailable) {
			if outcome := rd.Session.Outcome(ctx); outcome != nil {
				err = outcome
			}
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, durationResponse{
		Key:       rd.Key,
		Seconds:   d.Seconds(),
		Value:     d.Value,
		Timescale: d.Timescale,
	})
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	rd, ok := s.reader(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.queryContext(r)
	defer cancel()

	tracks, err := rd.Session.Tracks(ctx)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	resp := make([]trackView, len(tracks))
	for i, t := range tracks {
		resp[i] = newTrackView(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSamples returns a page of the sample table. Query parameters:
// offset and limit select the page, wait=1 blocks until the track is
// finished, payload=1 includes the sample bytes.
func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	rd, ok := s.reader(w, r)
	if !ok {
		return
	}
	t, ok := s.track(w, r, rd)
	if !ok {
		return
	}

	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := intParam(q.Get("limit"), defaultSampleLimit)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	limit = min(limit, maxSampleLimit)

	if q.Get("wait") == "1" {
		ctx, cancel := s.queryContext(r)
		err := t.Wait(ctx)
		cancel()
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
	}

	all := t.Samples()
	resp := samplesResponse{
		TrackID:  t.ID(),
		Total:    len(all),
		Finished: t.Finished(),
		Offset:   offset,
		Samples:  make([]sampleView, 0),
	}
	payload := q.Get("payload") == "1"
	for i := offset; i < len(all) && i < offset+limit; i++ {
		v := newSampleView(i, all[i].Sample)
		if payload && v.Data == nil {
			if v.Data, err = t.ReadSample(i); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		resp.Samples = append(resp.Samples, v)
	}
	writeJSON(w, http.StatusOK, resp)
}

func newSampleView(i int, s media.Sample) sampleView {
	return sampleView{
		Index:     i,
		PTS:       s.PTS.Value,
		DTS:       s.DTS.Value,
		Duration:  s.Duration.Value,
		Timescale: s.PTS.Timescale,
		Keyframe:  s.Keyframe,
		Size:      s.Size(),
		Ranges:    s.Ranges,
		Captions:  s.Captions,
		Data:      s.Data,
	}
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	rd, ok := s.reader(w, r)
	if !ok {
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	t, ok := s.track(w, r, rd)
	if !ok {
		return
	}
	t.SetEnabled(*req.Enabled)
	writeJSON(w, http.StatusOK, newTrackView(t))
}

func intParam(v string, fallback int) (int, error) {
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
