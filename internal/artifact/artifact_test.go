package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/continualrank/trainer/pkg/errors"
)

func TestName(t *testing.T) {
	if got := Name("index", "baseline-10k", 3); got != "index_baseline-10k_3" {
		t.Errorf("Name = %q", got)
	}
	if got := Name("test", "continual", 0); got != "test_continual_0" {
		t.Errorf("Name = %q", got)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	embeddings := [][]float32{
		{0.1, -0.2, 0.3},
		{1, 0, -1},
		{0.5, 0.5, 0.5},
	}

	path, err := Write(dir, "index_roundtrip_0", embeddings)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("artifact written to %s, want directory %s", path, dir)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after a successful write")
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != len(embeddings) {
		t.Fatalf("read %d rows, want %d", len(got), len(embeddings))
	}
	for i := range embeddings {
		for j := range embeddings[i] {
			if got[i][j] != embeddings[i][j] {
				t.Errorf("row %d col %d = %v, want %v", i, j, got[i][j], embeddings[i][j])
			}
		}
	}
}

func TestWriteRejectsEmptyAndRagged(t *testing.T) {
	dir := t.TempDir()
	if _, err := Write(dir, "empty", nil); err == nil {
		t.Error("Write accepted an empty embedding set")
	}
	ragged := [][]float32{{1, 2}, {1, 2, 3}}
	if _, err := Write(dir, "ragged", ragged); err == nil {
		t.Error("Write accepted rows of differing dimension")
	}
}

func TestReadDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path, err := Write(dir, "index_corrupt_0", [][]float32{{1, 2, 3}, {4, 5, 6}})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading artifact back: %v", err)
	}

	corrupt := func(t *testing.T, mutate func([]byte) []byte) error {
		t.Helper()
		mutated := mutate(append([]byte(nil), data...))
		p := filepath.Join(t.TempDir(), "mutated")
		if err := os.WriteFile(p, mutated, 0644); err != nil {
			t.Fatalf("writing mutated artifact: %v", err)
		}
		_, err := Read(p)
		return err
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"bad_magic", func(b []byte) []byte { b[0] ^= 0xFF; return b }},
		{"bad_version", func(b []byte) []byte { b[4] = 99; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)-5] }},
		{"payload_flip", func(b []byte) []byte { b[HeaderSize] ^= 0xFF; return b }},
		{"too_short", func(b []byte) []byte { return b[:10] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := corrupt(t, tt.mutate)
			if err == nil {
				t.Fatal("Read accepted a corrupted artifact")
			}
			if !errors.Is(err, apperrors.ErrArtifactCorrupt) {
				t.Errorf("error %v is not ErrArtifactCorrupt", err)
			}
		})
	}
}

func TestWriteCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "artifacts")
	if _, err := Write(dir, "index_nested_0", [][]float32{{1}}); err != nil {
		t.Fatalf("Write into a missing directory: %v", err)
	}
}
