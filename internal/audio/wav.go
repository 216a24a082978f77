package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// headerSize is the fixed size of a canonical PCM WAV header.
const headerSize = 44

// Header represents the canonical 44-byte WAV header layout.
type Header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // bytes of PCM data
}

// Info summarizes a decoded WAV header.
type Info struct {
	SampleRate      int
	Channels        int
	BitsPerSample   int
	DataBytes       int
	DurationSeconds float64
}

// Probe parses and validates the WAV header without decoding samples.
func Probe(data []byte) (*Info, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("wav data too short: need at least %d bytes, got %d", headerSize, len(data))
	}

	var header Header
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read wav header: %w", err)
	}

	if string(header.ChunkID[:]) != "RIFF" {
		return nil, fmt.Errorf("invalid wav: missing RIFF header")
	}
	if string(header.Format[:]) != "WAVE" {
		return nil, fmt.Errorf("invalid wav: missing WAVE format")
	}
	if string(header.Subchunk1ID[:]) != "fmt " {
		return nil, fmt.Errorf("invalid wav: missing fmt chunk")
	}
	if string(header.Subchunk2ID[:]) != "data" {
		return nil, fmt.Errorf("invalid wav: missing data chunk")
	}
	if header.AudioFormat != 1 {
		return nil, fmt.Errorf("unsupported wav: audio format %d is not PCM", header.AudioFormat)
	}
	if header.SampleRate == 0 || header.NumChannels == 0 {
		return nil, fmt.Errorf("invalid wav: zero sample rate or channel count")
	}

	info := &Info{
		SampleRate:    int(header.SampleRate),
		Channels:      int(header.NumChannels),
		BitsPerSample: int(header.BitsPerSample),
		DataBytes:     int(header.Subchunk2Size),
	}
	byteRate := int(header.SampleRate) * int(header.NumChannels) * int(header.BitsPerSample) / 8
	if byteRate > 0 {
		info.DurationSeconds = float64(info.DataBytes) / float64(byteRate)
	}
	return info, nil
}

// Decode parses WAV data into interleaved PCM-16 samples.
func Decode(data []byte) ([]int16, *Info, error) {
	info, err := Probe(data)
	if err != nil {
		return nil, nil, err
	}
	if info.BitsPerSample != 16 {
		return nil, nil, fmt.Errorf("unsupported wav: %d bits per sample, want 16", info.BitsPerSample)
	}

	pcm := data[headerSize:]
	if info.DataBytes < len(pcm) {
		pcm = pcm[:info.DataBytes]
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, info, nil
}

// Encode writes mono PCM-16 samples as a WAV blob.
func Encode(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)

	header := Header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("write wav data: %w", err)
	}
	return buf.Bytes(), nil
}
