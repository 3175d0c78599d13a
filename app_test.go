package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mediarec/internal/domain"
)

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:    "Startup failed",
		domain.ErrorCodeAcquire:    "Could not access the microphone",
		domain.ErrorCodeTransition: "Recorder command rejected",
		domain.ErrorCodeAssembly:   "Recording could not be assembled",
		domain.ErrorCodeDevice:     "Audio device issue",
		domain.ErrorCodePlayback:   "Playback failed",
	}
	for code, want := range cases {
		code := code
		want := want
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestSourceMessage(t *testing.T) {
	t.Parallel()

	if got := sourceMessage("ffmpeg"); got != "Fallback recorder is enabled (ffmpeg)" {
		t.Fatalf("unexpected fallback message: %q", got)
	}
	if got := sourceMessage("native"); got == "" {
		t.Fatalf("expected native message")
	}
	if got := sourceMessage("other"); got != "" {
		t.Fatalf("expected empty message, got %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if _, err := app.Start(); !errors.Is(err, bootErr) {
		t.Fatalf("expected commands to fail before boot, got %v", err)
	}
	if _, err := app.Acquire(domain.Constraints{Audio: true}); !errors.Is(err, bootErr) {
		t.Fatalf("expected acquire to fail before boot, got %v", err)
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := &App{}
	status := app.GetStatus()
	if status.State != domain.RecorderStateInactive || status.Attached {
		t.Fatalf("unexpected status: %+v", status)
	}
	if len(app.GetSupportedTypes()) != 0 {
		t.Fatalf("expected no supported types before boot")
	}

	app.bootErr = errors.New("boot")
	status = app.GetStatus()
	if status.Message != "boot" {
		t.Fatalf("unexpected boot status: %+v", status)
	}
}

func TestArtifactHandlerBeforeBoot(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	artifactHandler{app: &App{}}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/artifacts/x", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
