package audio

import (
	"bytes"

	"github.com/tablevox/voicepipe/domain/model"
)

// DetectFormat sniffs the container format from leading bytes. Anything
// without a recognized marker is reported as unknown, never guessed.
func DetectFormat(data []byte) model.AudioFormat {
	if len(data) < 12 {
		return model.FormatUnknown
	}

	switch {
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return model.FormatWAV
	case bytes.HasPrefix(data, []byte("ID3")):
		return model.FormatMP3
	case data[0] == 0xFF && (data[1]&0xE0) == 0xE0:
		// MPEG audio frame sync without an ID3 tag.
		return model.FormatMP3
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return model.FormatWebM
	case bytes.HasPrefix(data, []byte("OggS")):
		return model.FormatOgg
	case bytes.HasPrefix(data, []byte("fLaC")):
		return model.FormatFLAC
	case bytes.Equal(data[4:8], []byte("ftyp")):
		return model.FormatM4A
	default:
		return model.FormatUnknown
	}
}
