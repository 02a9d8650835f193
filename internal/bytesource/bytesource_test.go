package bytesource

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestBytes_ReadAt(t *testing.T) {
	t.Parallel()
	src := FromBytes([]byte("0123456789"))

	buf := make([]byte, 4)
	n, err := src.ReadAt(buf, 8)
	if n != 2 || !errors.Is(err, io.EOF) {
		t.Fatalf("ReadAt past end = %d, %v; want 2, EOF", n, err)
	}
	if string(buf[:n]) != "89" {
		t.Errorf("got %q, want %q", buf[:n], "89")
	}
	if _, err := src.ReadAt(buf, 10); !errors.Is(err, io.EOF) {
		t.Errorf("ReadAt at size should be EOF, got %v", err)
	}
}

func TestReadRange(t *testing.T) {
	t.Parallel()
	src := FromBytes([]byte("abcdefgh"))

	got, err := ReadRange(src, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "cde" {
		t.Errorf("ReadRange = %q, want %q", got, "cde")
	}
	if _, err := ReadRange(src, 6, 5); err == nil {
		t.Error("expected error for out-of-range read")
	}
}

func TestReader_Sequential(t *testing.T) {
	t.Parallel()
	data := bytes.Repeat([]byte{0x47}, 376)
	got, err := io.ReadAll(Reader(FromBytes(data)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("sequential read mismatch")
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "in.ts")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if f.Size() != 11 {
		t.Errorf("Size = %d, want 11", f.Size())
	}
	got, err := ReadRange(f, 6, 5)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "world" {
		t.Errorf("got %q, want %q", got, "world")
	}

	if _, err := Open(t.TempDir()); err == nil {
		t.Error("expected error opening a directory")
	}
}

func TestOpenIn(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	dir := filepath.Join(base, "media")
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "in.ts"), []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	secret := filepath.Join(base, "secret.ts")
	if err := os.WriteFile(secret, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(secret, filepath.Join(dir, "link.ts")); err != nil {
		t.Fatal(err)
	}

	f, err := OpenIn(dir, "sub/in.ts")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if f.Size() != 3 {
		t.Errorf("Size = %d, want 3", f.Size())
	}

	tests := []struct {
		name    string
		outside bool
	}{
		{"../secret.ts", true},
		{"sub/../../secret.ts", true},
		{secret, true},
		{"link.ts", false},
		{"missing.ts", false},
		{"sub", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := OpenIn(dir, tt.name)
			if err == nil {
				f.Close()
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrOutsideRoot) != tt.outside {
				t.Errorf("err = %v, outside root = %v", err, tt.outside)
			}
		})
	}
}

func TestSpool(t *testing.T) {
	t.Parallel()
	s := NewSpool(8)

	if _, err := s.Write([]byte("abcd")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write([]byte("efghi")); !errors.Is(err, ErrLimit) {
		t.Errorf("write past limit = %v, want ErrLimit", err)
	}
	if s.Size() != 4 {
		t.Errorf("Size = %d, want 4", s.Size())
	}

	s.Seal()
	s.Seal()
	select {
	case <-s.Sealed():
	default:
		t.Fatal("Sealed channel should be closed")
	}
	if _, err := s.Write([]byte("x")); !errors.Is(err, ErrSealed) {
		t.Errorf("write after seal = %v, want ErrSealed", err)
	}

	got, err := ReadRange(s, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "bcd" {
		t.Errorf("got %q, want %q", got, "bcd")
	}
}
