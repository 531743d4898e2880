package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Telephony audio is 8 kHz mono mu-law, one byte per sample.
const (
	FormatMuLaw        = 7
	MuLawSampleRate    = 8000
	wavHeaderSize      = 44
	wavFmtChunkSize    = 16
	muLawBitsPerSample = 8
)

// WAVHeader is the canonical 44-byte RIFF/WAVE header.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeMuLawWAV wraps raw mu-law samples in a WAV container.
func EncodeMuLawWAV(payload []byte) []byte {
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(payload)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: wavFmtChunkSize,
		AudioFormat:   FormatMuLaw,
		NumChannels:   1,
		SampleRate:    MuLawSampleRate,
		ByteRate:      MuLawSampleRate,
		BlockAlign:    1,
		BitsPerSample: muLawBitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(payload)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(payload)))
	// Writes to a bytes.Buffer of a fixed-size struct cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, header)
	buf.Write(payload)
	return buf.Bytes()
}

// ReadHeader parses and validates the header of a WAV file.
func ReadHeader(data []byte) (WAVHeader, error) {
	var header WAVHeader
	if len(data) < wavHeaderSize {
		return header, fmt.Errorf("audio: WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return header, fmt.Errorf("audio: read WAV header: %w", err)
	}
	if string(header.ChunkID[:]) != "RIFF" {
		return header, fmt.Errorf("audio: invalid WAV file: missing RIFF header")
	}
	if string(header.Format[:]) != "WAVE" {
		return header, fmt.Errorf("audio: invalid WAV file: missing WAVE format")
	}
	if string(header.Subchunk1ID[:]) != "fmt " {
		return header, fmt.Errorf("audio: invalid WAV file: missing fmt chunk")
	}
	if string(header.Subchunk2ID[:]) != "data" {
		return header, fmt.Errorf("audio: invalid WAV file: missing data chunk")
	}
	return header, nil
}

// DurationMs returns the playback length in milliseconds described by h.
func (h WAVHeader) DurationMs() int64 {
	if h.ByteRate == 0 {
		return 0
	}
	return int64(h.Subchunk2Size) * 1000 / int64(h.ByteRate)
}
