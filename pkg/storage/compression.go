package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// Compressor handles compression of chart series
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a new compressor
func NewCompressor(level int) (*Compressor, error) {
	// Create encoder with specified compression level
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// CompressLabels compresses category labels as length-prefixed strings + zstd
func (c *Compressor) CompressLabels(labels []string) ([]byte, error) {
	if len(labels) == 0 {
		return nil, nil
	}

	buf := new(bytes.Buffer)
	for _, label := range labels {
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(label))); err != nil {
			return nil, err
		}
		buf.WriteString(label)
	}

	return c.encoder.EncodeAll(buf.Bytes(), make([]byte, 0, buf.Len())), nil
}

// DecompressLabels decompresses category labels
func (c *Compressor) DecompressLabels(data []byte, count int) ([]string, error) {
	if len(data) == 0 {
		if count != 0 {
			return nil, fmt.Errorf("expected %d labels, got no data", count)
		}
		return []string{}, nil
	}

	decompressed, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	buf := bytes.NewReader(decompressed)
	labels := make([]string, count)

	for i := 0; i < count; i++ {
		var n uint32
		if err := binary.Read(buf, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		if int64(n) > int64(buf.Len()) {
			return nil, fmt.Errorf("label %d truncated", i)
		}

		raw := make([]byte, n)
		if _, err := buf.Read(raw); err != nil && n > 0 {
			return nil, err
		}
		labels[i] = string(raw)
	}

	return labels, nil
}

// CompressValues compresses float64 values using XOR encoding + zstd
func (c *Compressor) CompressValues(values []float64) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	buf := new(bytes.Buffer)

	// Write first value as-is
	if err := binary.Write(buf, binary.LittleEndian, math.Float64bits(values[0])); err != nil {
		return nil, err
	}

	// XOR against the previous value; neighbouring buckets share most bits
	prevBits := math.Float64bits(values[0])
	for i := 1; i < len(values); i++ {
		currentBits := math.Float64bits(values[i])
		if err := binary.Write(buf, binary.LittleEndian, currentBits^prevBits); err != nil {
			return nil, err
		}
		prevBits = currentBits
	}

	return c.encoder.EncodeAll(buf.Bytes(), make([]byte, 0, buf.Len())), nil
}

// DecompressValues decompresses float64 values
func (c *Compressor) DecompressValues(data []byte, count int) ([]float64, error) {
	if len(data) == 0 {
		if count != 0 {
			return nil, fmt.Errorf("expected %d values, got no data", count)
		}
		return []float64{}, nil
	}

	decompressed, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	buf := bytes.NewReader(decompressed)
	values := make([]float64, count)

	var prevBits uint64
	for i := 0; i < count; i++ {
		var bits uint64
		if err := binary.Read(buf, binary.LittleEndian, &bits); err != nil {
			return nil, err
		}
		if i > 0 {
			bits ^= prevBits
		}
		values[i] = math.Float64frombits(bits)
		prevBits = bits
	}

	return values, nil
}

// Close closes the compressor resources
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
