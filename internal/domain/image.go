// Package domain contains core business types and interfaces.
//
// This file defines the upload candidate and the validation applied to it
// before any image is sent for analysis.
package domain

import (
	"errors"
	"path/filepath"
	"strings"
)

// =============================================================================
// Image Constants
// =============================================================================

// AllowedImageExtensions lists the accepted filename suffixes.
var AllowedImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// AllowedImageTypes lists the accepted declared MIME types.
var AllowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

const (
	// MaxImageSize is the maximum allowed size for uploaded images (5MB).
	MaxImageSize = 5 * 1024 * 1024

	// FileTooLargeMessage is shown when an upload exceeds MaxImageSize.
	FileTooLargeMessage = "File too large. Max size is 5MB"
)

// Validation rejections. They are wrapped by the *Error returned from
// ValidateUpload so callers can match them with errors.Is.
var (
	ErrInvalidExtension   = errors.New("invalid file type (extension)")
	ErrInvalidContentType = errors.New("invalid file type (content-type)")
	ErrFileTooLarge       = errors.New("file too large")
)

// =============================================================================
// Upload Candidate
// =============================================================================

// UploadCandidate is a file submitted with an analysis request that has not
// been validated yet. It lives for the duration of one request.
type UploadCandidate struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// Extension returns the lower-cased filename extension, including the dot.
func (u UploadCandidate) Extension() string {
	return strings.ToLower(filepath.Ext(u.Filename))
}

// MediaType returns the lower-cased declared content type.
func (u UploadCandidate) MediaType() string {
	return strings.ToLower(u.ContentType)
}

// ValidateUpload checks extension, declared content type and size, in that
// order. The first failing check is returned and no further checks run.
func ValidateUpload(u UploadCandidate) error {
	const op = "upload.validate"

	if !AllowedImageExtensions[u.Extension()] {
		return Wrap(ErrInvalidExtension, EINVALID, op,
			"Invalid file type (extension). Allowed: .jpg, .jpeg, .png, .webp")
	}

	if !AllowedImageTypes[u.MediaType()] {
		return Wrap(ErrInvalidContentType, EINVALID, op,
			"Invalid file type (content-type). Allowed: image/jpeg, image/png, image/webp")
	}

	if u.Size > MaxImageSize {
		return Wrap(ErrFileTooLarge, ETOOLARGE, op, FileTooLargeMessage)
	}

	return nil
}
