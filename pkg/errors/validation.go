package errors

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// bucketNameRegex matches bucket names that are safe as directory names,
// redis key segments and sqlite values alike.
var bucketNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateBucketName validates an offline bucket name.
//
// The validation rules are intentionally conservative:
//   - No empty names
//   - Maximum length of 128 characters
//   - Letters, digits, dot, dash and underscore only, not starting with a dot
//   - No path traversal sequences (..)
func ValidateBucketName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidBucket, "bucket name cannot be empty")
	}

	if len(name) > 128 {
		return New(ErrCodeInvalidBucket, "bucket name too long (max 128 characters)")
	}

	if strings.Contains(name, "..") {
		return New(ErrCodeInvalidBucket, "bucket name cannot contain path traversal sequences (..)")
	}

	if !bucketNameRegex.MatchString(name) {
		return New(ErrCodeInvalidBucket, "invalid bucket name: %q", name)
	}

	return nil
}

// ValidateFieldName validates a multipart form field name.
// It rejects names that would corrupt the Content-Disposition header.
func ValidateFieldName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidInput, "field name cannot be empty")
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "field name contains invalid control characters")
		}
	}

	if strings.ContainsAny(name, `"\`) {
		return New(ErrCodeInvalidInput, "field name cannot contain quotes or backslashes: %q", name)
	}

	return nil
}

// ValidateURL validates a URL string for safety.
// It ensures the URL is absolute, has a host and uses http or https.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidInput, "URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Wrap(ErrCodeInvalidInput, err, "invalid URL %q", rawURL)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return New(ErrCodeInvalidInput, "URL must use http or https scheme")
	}

	if u.Host == "" {
		return New(ErrCodeInvalidInput, "URL must include a host")
	}

	return nil
}

// ValidateAssetPath validates an entry of the offline install manifest.
// Asset paths are origin-relative and must start with a slash.
func ValidateAssetPath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidInput, "asset path cannot be empty")
	}

	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return New(ErrCodeInvalidInput, "asset path must be origin-relative: %q", path)
	}

	for _, r := range path {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return New(ErrCodeInvalidInput, "asset path contains invalid characters: %q", path)
		}
	}

	return nil
}
