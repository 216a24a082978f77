package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/tablevox/voicepipe/domain/model"
	pkgerrors "github.com/tablevox/voicepipe/pkg/errors"
	"github.com/tablevox/voicepipe/pkg/logger"
	"go.uber.org/zap"
)

// Encoder implements ports.Encoder by piping blobs through an ffmpeg
// process: stdin in, mono 16-bit WAV at the target rate out.
type Encoder struct {
	ffmpegPath string
	sampleRate int
	log        *logger.Logger
}

// EncoderConfig holds configuration for the ffmpeg encoder.
type EncoderConfig struct {
	// FFmpegPath is the ffmpeg binary (auto-detected if empty).
	FFmpegPath string

	// SampleRate of the produced WAV. Default 16000.
	SampleRate int

	Logger *logger.Logger
}

// NewEncoder creates an ffmpeg-backed encoder. Fails when no ffmpeg binary
// can be found, letting the caller degrade to the pass-through path.
func NewEncoder(cfg EncoderConfig) (*Encoder, error) {
	path := cfg.FFmpegPath
	if path == "" {
		var err error
		path, err = exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Encoder{
		ffmpegPath: path,
		sampleRate: rate,
		log:        log.Named("ffmpeg"),
	}, nil
}

// Encode re-encodes a blob to mono PCM WAV at the configured rate.
func (e *Encoder) Encode(ctx context.Context, audio []byte, source model.AudioFormat) ([]byte, model.AudioFormat, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ac", "1",
		"-ar", strconv.Itoa(e.sampleRate),
		"-f", "wav",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	cmd.Stdin = bytes.NewReader(audio)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.log.Debug("re-encoding blob",
		zap.String("source_format", string(source)),
		zap.Int("size", len(audio)),
	)

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return nil, model.FormatUnknown, pkgerrors.NewEncodingError(
			"ffmpeg encoding failed",
			args,
			exitCode,
			stderr.String(),
			err,
		)
	}

	return stdout.Bytes(), model.FormatWAV, nil
}
