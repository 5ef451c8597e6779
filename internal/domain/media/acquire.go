package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qrave1/RoomMesh/internal/application/constant"
)

// Cause - причина, по которой не удалось получить поток
type Cause int

const (
	CauseUnknown Cause = iota
	CausePermissionDenied
	CauseNotFound
	CauseInUse
	CauseConstraintsUnsatisfiable
)

func (c Cause) String() string {
	switch c {
	case CausePermissionDenied:
		return "permission_denied"
	case CauseNotFound:
		return "not_found"
	case CauseInUse:
		return "in_use"
	case CauseConstraintsUnsatisfiable:
		return "constraints_unsatisfiable"
	default:
		return "unknown"
	}
}

// AcquisitionError - ошибка получения локального потока
type AcquisitionError struct {
	Cause Cause
	Err   error
}

func NewAcquisitionError(cause Cause, err error) *AcquisitionError {
	return &AcquisitionError{Cause: cause, Err: err}
}

func (e *AcquisitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("acquire media: %s", e.Cause)
	}

	return fmt.Sprintf("acquire media: %s: %v", e.Cause, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// Message - подсказка пользователю
func (e *AcquisitionError) Message() string {
	switch e.Cause {
	case CausePermissionDenied:
		return "Camera permission denied. Allow access to the camera and microphone, then try again."
	case CauseNotFound:
		return "No camera found. Please connect a camera and try again."
	case CauseInUse:
		return "Camera is already in use by another application. Close other apps using the camera and try again."
	case CauseConstraintsUnsatisfiable:
		return "Camera doesn't support the requested settings. Trying with default settings..."
	default:
		if e.Err != nil {
			return e.Err.Error()
		}

		return "Camera access error."
	}
}

// Retryable - повторять имеет смысл все, кроме отказа в доступе
func (e *AcquisitionError) Retryable() bool {
	return e.Cause != CausePermissionDenied
}

// CauseOf - причина из цепочки ошибок, CauseUnknown если это не AcquisitionError
func CauseOf(err error) Cause {
	var acqErr *AcquisitionError
	if errors.As(err, &acqErr) {
		return acqErr.Cause
	}

	return CauseUnknown
}

// Acquirer - источник локальных потоков
type Acquirer interface {
	Acquire(ctx context.Context, c Constraints) (*Stream, error)
	Release(s *Stream) error
}

// AcquireWithRetry делает одну повторную попытку через delay, если ошибка не PermissionDenied.
// Ошибка без классификации считается CauseUnknown
func AcquireWithRetry(ctx context.Context, a Acquirer, c Constraints, delay time.Duration) (*Stream, error) {
	stream, err := a.Acquire(ctx, c)
	if err == nil {
		return stream, nil
	}

	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) {
		acqErr = NewAcquisitionError(CauseUnknown, err)
	}

	if !acqErr.Retryable() {
		return nil, acqErr
	}

	slog.Warn(
		"media acquisition failed, retrying",
		slog.Any(constant.Error, err),
		slog.String(constant.Kind, string(c.Source)),
		slog.Duration("delay", delay),
	)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, acqErr
	case <-timer.C:
	}

	stream, err = a.Acquire(ctx, c)
	if err != nil {
		if !errors.As(err, &acqErr) {
			acqErr = NewAcquisitionError(CauseUnknown, err)
		}

		return nil, acqErr
	}

	return stream, nil
}
