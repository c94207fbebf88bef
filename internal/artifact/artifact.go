// Package artifact serialises embedding matrices to disk. Index and test
// embeddings are written once per task, then dropped from memory; the
// evaluator reads them back through this package.
//
// Layout: a 32-byte header (magic, version, row count, dimension, creation
// time), little-endian float32 rows in corpus order, and a CRC-32 footer
// over the payload. Files are written to a temp path and renamed on success.
package artifact

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/continualrank/trainer/pkg/errors"
)

const (
	MagicBytes    uint32 = 0x43524E4B
	FormatVersion uint32 = 1
	HeaderSize    int    = 32
	FooterSize    int    = 8
)

// Name returns the deterministic artifact file name for a pass ("index" or
// "test"), experiment name, and task id.
func Name(pass, experiment string, taskID int) string {
	return fmt.Sprintf("%s_%s_%d", pass, experiment, taskID)
}

// Write serialises the embeddings into dir under the given name and returns
// the final path. All rows must share one dimension.
func Write(dir, name string, embeddings [][]float32) (string, error) {
	if len(embeddings) == 0 {
		return "", fmt.Errorf("cannot write empty embedding artifact %s", name)
	}
	dim := len(embeddings[0])
	for i, row := range embeddings {
		if len(row) != dim {
			return "", fmt.Errorf("artifact %s: row %d has dimension %d, want %d", name, i, len(row), dim)
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}
	finalPath := filepath.Join(dir, name)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp artifact file: %w", err)
	}
	defer f.Close()

	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(embeddings)))
	binary.LittleEndian.PutUint32(header[12:16], uint32(dim))
	binary.LittleEndian.PutUint64(header[16:24], uint64(time.Now().Unix()))
	if _, err := f.Write(header); err != nil {
		return "", fmt.Errorf("writing artifact header: %w", err)
	}

	payload := make([]byte, len(embeddings)*dim*4)
	offset := 0
	for _, row := range embeddings {
		for _, v := range row {
			binary.LittleEndian.PutUint32(payload[offset:offset+4], math.Float32bits(v))
			offset += 4
		}
	}
	if _, err := f.Write(payload); err != nil {
		return "", fmt.Errorf("writing artifact payload: %w", err)
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(payload))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing artifact footer: %w", err)
	}

	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing artifact file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming artifact file: %w", err)
	}
	return finalPath, nil
}

// Read loads an embedding artifact, validating magic, version, and checksum.
func Read(path string) ([][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", path, err)
	}
	if len(data) < HeaderSize+FooterSize {
		return nil, apperrors.Newf(apperrors.ErrArtifactCorrupt, apperrors.ClassData, "%s: truncated (%d bytes)", path, len(data))
	}

	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != MagicBytes {
		return nil, apperrors.Newf(apperrors.ErrArtifactCorrupt, apperrors.ClassData, "%s: bad magic bytes %x", path, magic)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != FormatVersion {
		return nil, apperrors.Newf(apperrors.ErrArtifactCorrupt, apperrors.ClassData, "%s: unsupported version %d", path, version)
	}
	count := int(binary.LittleEndian.Uint32(data[8:12]))
	dim := int(binary.LittleEndian.Uint32(data[12:16]))

	payloadSize := count * dim * 4
	if len(data) != HeaderSize+payloadSize+FooterSize {
		return nil, apperrors.Newf(apperrors.ErrArtifactCorrupt, apperrors.ClassData,
			"%s: size %d does not match %d rows of dimension %d", path, len(data), count, dim)
	}
	payload := data[HeaderSize : HeaderSize+payloadSize]
	checksum := binary.LittleEndian.Uint32(data[HeaderSize+payloadSize:])
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, apperrors.Newf(apperrors.ErrArtifactCorrupt, apperrors.ClassData, "%s: checksum mismatch", path)
	}

	embeddings := make([][]float32, count)
	offset := 0
	for i := 0; i < count; i++ {
		row := make([]float32, dim)
		for j := 0; j < dim; j++ {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(payload[offset : offset+4]))
			offset += 4
		}
		embeddings[i] = row
	}
	return embeddings, nil
}
