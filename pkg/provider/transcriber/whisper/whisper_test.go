package whisper_test

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/voxcal/internal/pipeline"
	"github.com/MrWong99/voxcal/pkg/provider/transcriber/whisper"
)

func newServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *whisper.Provider) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := whisper.New(srv.URL, whisper.WithLanguage("en"), whisper.WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, p
}

func TestNewRequiresServerURL(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("empty serverURL must be rejected")
	}
}

func TestTranscribeUploadsMultipart(t *testing.T) {
	t.Parallel()

	_, p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("path = %s, want /inference", r.URL.Path)
		}
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			t.Errorf("content type = %q (%v)", mediaType, err)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language field = %q", got)
		}
		if got := r.FormValue("model"); got != "base.en" {
			t.Errorf("model field = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "standup.ogg" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		data, _ := io.ReadAll(f)
		if string(data) != "fake audio bytes" {
			t.Errorf("file content = %q", data)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":" schedule the standup tomorrow at ten"}`)
	})

	text, err := p.Transcribe(context.Background(), strings.NewReader("fake audio bytes"), "standup.ogg")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != " schedule the standup tomorrow at ten" {
		t.Errorf("text = %q", text)
	}
}

func TestTranscribeClassifiesStatusCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"gateway timeout", http.StatusGatewayTimeout, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})
			_, err := p.Transcribe(context.Background(), strings.NewReader("x"), "a.ogg")
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := pipeline.IsTransient(err); got != tc.transient {
				t.Errorf("IsTransient = %v, want %v (err=%v)", got, tc.transient, err)
			}
			if !tc.transient && !pipeline.IsFatal(err) {
				t.Errorf("4xx must be fatal, got %v", err)
			}
		})
	}
}

func TestTranscribeNetworkFailureIsTransient(t *testing.T) {
	t.Parallel()

	srv, p := newServer(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close() // force connection refused

	_, err := p.Transcribe(context.Background(), strings.NewReader("x"), "a.ogg")
	if !pipeline.IsTransient(err) {
		t.Fatalf("network failure must be transient, got %v", err)
	}
}
