package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/tablevox/voicepipe/domain/model"
	pkgerrors "github.com/tablevox/voicepipe/pkg/errors"
	"github.com/tablevox/voicepipe/pkg/logger"
	"go.uber.org/zap"
)

// Config contains transcription service client configuration.
type Config struct {
	Endpoint string
	APIKey   string

	// Timeout bounds a single request at the transport level. The batch
	// processor additionally bounds each call with its per-job timeout.
	Timeout time.Duration

	Logger *logger.Logger
}

// Client is an HTTP client for the external transcription service. It
// performs exactly one attempt per call; retries belong to the batch
// processor.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *logger.Logger
}

// response is the service's JSON reply.
type response struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewClient creates a transcription service client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: log.Named("transcriber"),
	}, nil
}

// Transcribe uploads one audio payload and returns its transcript.
func (c *Client) Transcribe(ctx context.Context, audio []byte, format model.AudioFormat) (*model.Transcription, error) {
	body, contentType, err := buildMultipart(audio, format)
	if err != nil {
		return nil, pkgerrors.NewTranscriptionError(pkgerrors.KindPermanent, "build request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, body)
	if err != nil {
		return nil, pkgerrors.NewTranscriptionError(pkgerrors.KindPermanent, "create request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Let the processor classify deadline vs. cancellation.
			return nil, err
		}
		return nil, pkgerrors.NewTranscriptionError(pkgerrors.KindTransient, "http request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.NewTranscriptionError(pkgerrors.KindTransient, "read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var parsed response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, pkgerrors.NewTranscriptionError(pkgerrors.KindTransient, "parse response json", err)
	}

	c.log.Debug("transcription completed",
		zap.Int("audio_bytes", len(audio)),
		zap.Float64("confidence", parsed.Confidence),
		zap.Duration("took", time.Since(start)),
	)

	return &model.Transcription{
		Text:       parsed.Text,
		Confidence: parsed.Confidence,
	}, nil
}

// classifyStatus maps service HTTP errors to the retry taxonomy: 429 and
// 5xx are transient, other 4xx are permanent input rejections.
func classifyStatus(status int, body []byte) error {
	msg := fmt.Sprintf("service returned %d: %s", status, truncate(body, 200))
	kind := pkgerrors.KindPermanent
	if status == http.StatusTooManyRequests || status >= 500 {
		kind = pkgerrors.KindTransient
	}
	te := pkgerrors.NewTranscriptionError(kind, msg, nil)
	te.StatusCode = status
	return te
}

func buildMultipart(audio []byte, format model.AudioFormat) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", "audio."+string(format))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("format", string(format)); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
