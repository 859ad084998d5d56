package mesh

import "context"

// Converter turns one non-native model file into a native STL file.
type Converter interface {
	// Name identifies the converter in logs.
	Name() string

	// CanConvert reports whether the converter handles the extension
	// (lower-case, with leading dot).
	CanConvert(ext string) bool

	// Convert loads src, merges its parts, repairs it and writes dst.
	Convert(ctx context.Context, src, dst string) error
}
