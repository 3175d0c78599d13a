package domain

import "errors"

// Acquisition failures.
var (
	ErrPermissionDenied   = errors.New("permission to use the audio input device was denied")
	ErrDeviceUnavailable  = errors.New("audio input device is unavailable")
	ErrNotSupported       = errors.New("no compatible recording capability")
	ErrInvalidConstraints = errors.New("constraints must request audio")
)

var (
	ErrInvalidTransition     = errors.New("command is not valid in the current recorder state")
	ErrMixedFragmentType     = errors.New("fragments with different content types in one recording")
	ErrNoRecorder            = errors.New("no recorder attached")
	ErrAcquisitionSuperseded = errors.New("acquisition superseded by a newer request")
	ErrAcquisitionCancelled  = errors.New("acquisition cancelled by release")
	ErrControllerClosed      = errors.New("device controller is closed")
	ErrArtifactReleased      = errors.New("artifact has been released")
)

// IsAcquisitionError reports whether err is one of the typed acquisition failures.
func IsAcquisitionError(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrDeviceUnavailable) ||
		errors.Is(err, ErrNotSupported) ||
		errors.Is(err, ErrInvalidConstraints)
}
