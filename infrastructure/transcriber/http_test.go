package transcriber

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tablevox/voicepipe/domain/model"
	pkgerrors "github.com/tablevox/voicepipe/pkg/errors"
)

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

func TestTranscribeSuccess(t *testing.T) {
	var gotAuth, gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotFormat = r.FormValue("format")
		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			defer file.Close()
			if header.Filename != "audio.wav" {
				t.Errorf("filename = %q, want audio.wav", header.Filename)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"one espresso please","confidence":0.97}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, APIKey: "tok-123"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	res, err := c.Transcribe(context.Background(), []byte("pcm bytes"), model.FormatWAV)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "one espresso please" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Confidence != 0.97 {
		t.Errorf("Confidence = %g, want 0.97", res.Confidence)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotFormat != "wav" {
		t.Errorf("format field = %q, want wav", gotFormat)
	}
}

func TestTranscribeStatusClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			c, err := NewClient(Config{Endpoint: srv.URL})
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			_, err = c.Transcribe(context.Background(), []byte("x"), model.FormatMP3)
			if err == nil {
				t.Fatal("expected error")
			}

			var te *pkgerrors.TranscriptionError
			if !errors.As(err, &te) {
				t.Fatalf("error = %T, want *TranscriptionError", err)
			}
			if te.StatusCode != tc.status {
				t.Errorf("StatusCode = %d, want %d", te.StatusCode, tc.status)
			}
			if got := pkgerrors.IsRetryable(err); got != tc.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tc.retryable)
			}
		})
	}
}

func TestTranscribeCancelledContextPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Transcribe(ctx, []byte("x"), model.FormatWAV)
	if err == nil {
		t.Fatal("expected error")
	}
	var te *pkgerrors.TranscriptionError
	if errors.As(err, &te) {
		t.Errorf("context error was wrapped as %v; caller classifies these", te)
	}
}

func TestTranscribeBadJSONIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Transcribe(context.Background(), []byte("x"), model.FormatWAV)
	if err == nil {
		t.Fatal("expected error")
	}
	if !pkgerrors.IsRetryable(err) {
		t.Errorf("malformed response should be retryable, got %v", err)
	}
}
