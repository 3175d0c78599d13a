package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"mediarec/internal/bootstrap"
	"mediarec/internal/domain"
)

const (
	eventAttached = "mediarec:attached"
	eventDetached = "mediarec:detached"
	eventRecorder = "mediarec:event"
	eventArtifact = "mediarec:artifact"
	eventError    = "mediarec:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services *bootstrap.Services
	bootErr  error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}
	a.services = services
}

func (a *App) shutdown(_ context.Context) {
	if a.services == nil {
		return
	}
	if err := a.services.Close(); err != nil {
		a.services.Logger.Warn("shutdown incomplete", zap.Error(err))
	}
}

// Acquire requests an audio input device and binds a recorder to it.
func (a *App) Acquire(constraints domain.Constraints) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if _, err := a.services.Controller.Acquire(a.ctx, constraints); err != nil {
		// A newer request or a teardown already decided the outcome.
		if !errors.Is(err, domain.ErrAcquisitionSuperseded) && !errors.Is(err, domain.ErrAcquisitionCancelled) {
			a.SessionError(domain.ErrorCodeAcquire, err.Error())
		}
		return a.services.Session.Status(), err
	}
	return a.services.Session.Status(), nil
}

// Release stops the device and detaches the recorder.
func (a *App) Release() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Controller.Release(); err != nil {
		a.SessionError(domain.ErrorCodeDevice, err.Error())
		return err
	}
	return nil
}

// Start records one take delivered as a single fragment on stop.
func (a *App) Start() (domain.Status, error) {
	return a.command(func() error { return a.services.Session.Start() })
}

// StartChunked records a take delivered every intervalMS milliseconds. Zero
// uses the configured interval.
func (a *App) StartChunked(intervalMS int) (domain.Status, error) {
	return a.command(func() error {
		return a.services.Session.StartChunked(time.Duration(intervalMS) * time.Millisecond)
	})
}

func (a *App) Pause() (domain.Status, error) {
	return a.command(func() error { return a.services.Session.Pause() })
}

func (a *App) Resume() (domain.Status, error) {
	return a.command(func() error { return a.services.Session.Resume() })
}

func (a *App) Stop() (domain.Status, error) {
	return a.command(func() error { return a.services.Session.Stop() })
}

func (a *App) RequestFlush() (domain.Status, error) {
	return a.command(func() error { return a.services.Session.RequestFlush() })
}

func (a *App) command(fn func() error) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := fn(); err != nil {
		a.SessionError(domain.ErrorCodeTransition, err.Error())
		return a.services.Session.Status(), err
	}
	return a.services.Session.Status(), nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.services == nil {
		status := domain.Status{State: domain.RecorderStateInactive, Events: []domain.ObservedEvent{}}
		if a.bootErr != nil {
			status.Message = a.bootErr.Error()
		}
		return status
	}
	return a.services.Session.Status()
}

// GetSupportedTypes lists the content types the recorder can produce.
func (a *App) GetSupportedTypes() []string {
	if a.services == nil {
		return []string{}
	}
	return a.services.Recorders.SupportedTypes()
}

// PlayArtifact plays the current recording through the speaker.
func (a *App) PlayArtifact() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	info, ok := a.services.Session.Artifact()
	if !ok {
		return errors.New("no recording to play")
	}
	r, _, err := a.services.Store.Open(info.ID)
	if err == nil {
		err = a.services.Player.Play(a.ctx, r)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.SessionError(domain.ErrorCodePlayback, err.Error())
		return err
	}
	return nil
}

// artifactHandler serves artifact URLs to the webview once the store exists.
type artifactHandler struct {
	app *App
}

func (h artifactHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.app.services == nil {
		http.NotFound(w, r)
		return
	}
	h.app.services.Store.ServeHTTP(w, r)
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// RecorderAttached tells the frontend a recorder is ready.
func (a *App) RecorderAttached(handleID string, source string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventAttached, map[string]string{
		"handleId": handleID,
		"source":   source,
		"message":  sourceMessage(source),
	})
}

func (a *App) RecorderDetached(handleID string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventDetached, map[string]string{"handleId": handleID})
}

// RecorderEvent forwards one observed recorder event.
func (a *App) RecorderEvent(event domain.ObservedEvent) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventRecorder, event)
}

func (a *App) ArtifactReady(info domain.ArtifactInfo) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventArtifact, info)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sourceMessage(source string) string {
	switch source {
	case "native":
		return "Recording with the system audio API"
	case "ffmpeg":
		return "Fallback recorder is enabled (ffmpeg)"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeAcquire:
		return "Could not access the microphone"
	case domain.ErrorCodeTransition:
		return "Recorder command rejected"
	case domain.ErrorCodeAssembly:
		return "Recording could not be assembled"
	case domain.ErrorCodeDevice:
		return "Audio device issue"
	case domain.ErrorCodePlayback:
		return "Playback failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
