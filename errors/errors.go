package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryNoSuitableComponent Category = "no_suitable_component"
	CategoryFetch               Category = "fetch"
	CategoryDecode              Category = "decode"
	CategoryTransformation      Category = "transformation"
	CategoryEncode              Category = "encode"
	CategoryCancelled           Category = "cancelled"
	CategoryDepthRestricted     Category = "depth_restricted"
	CategoryCache               Category = "cache"
	CategoryConfig              Category = "config"
	CategoryInput               Category = "input"
)

// ImageError is the structured error type used throughout the module.
type ImageError struct {
	Category Category
	Op       string // operation name
	Err      error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ImageError) Unwrap() error { return e.Err }

// New creates an ImageError.
func New(category Category, op string, err error) *ImageError {
	return &ImageError{Category: category, Op: op, Err: err}
}

// Wrap wraps an existing error with context.  Context cancellation is always
// reported as CategoryCancelled regardless of the requested category, and an
// error that already carries a category keeps it.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	var ie *ImageError
	if errors.As(err, &ie) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		category = CategoryCancelled
	}
	return New(category, op, err)
}

// Cancelled creates a CategoryCancelled error for op.
func Cancelled(op string, cause error) *ImageError {
	if cause == nil {
		cause = ErrCancelled
	}
	return New(CategoryCancelled, op, cause)
}

// DepthRestricted creates a soft failure explaining which depth stopped the request.
func DepthRestricted(op, depthFrom string) *ImageError {
	if depthFrom == "" {
		return New(CategoryDepthRestricted, op, ErrDepthRestricted)
	}
	return New(CategoryDepthRestricted, op, fmt.Errorf("%w (from %s)", ErrDepthRestricted, depthFrom))
}

// CategoryOf returns the category of err, or "" when err is not an ImageError.
func CategoryOf(err error) Category {
	var ie *ImageError
	if errors.As(err, &ie) {
		return ie.Category
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryCancelled
	}
	return ""
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	return err != nil && CategoryOf(err) == cat
}

// IsCancelled reports whether err represents a cancelled execution.
func IsCancelled(err error) bool { return IsCategory(err, CategoryCancelled) }

// IsDepthRestricted reports whether err was caused by the request depth.
func IsDepthRestricted(err error) bool { return IsCategory(err, CategoryDepthRestricted) }

// IsSoft reports whether err is a soft failure: cancellation or a depth limit.
func IsSoft(err error) bool { return IsCancelled(err) || IsDepthRestricted(err) }

// Sentinel errors for common failure modes.
var (
	ErrNoSuitableFetcher = errors.New("no suitable fetcher")
	ErrNoSuitableDecoder = errors.New("no suitable decoder")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrEmptyInput        = errors.New("empty input")
	ErrUriInvalid        = errors.New("uri is empty or invalid")
	ErrCacheMiss         = errors.New("cache miss")
	ErrHTTPStatus        = errors.New("unexpected http status")
	ErrCancelled         = errors.New("request cancelled")
	ErrDepthRestricted   = errors.New("request depth restricted")
	ErrEngineShutdown    = errors.New("engine is shut down")
)
