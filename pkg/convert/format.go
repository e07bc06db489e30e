// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package convert

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"vconv/pkg/container"
)

// Format of an output container.
type Format string

// Output formats.
const (
	FormatAVI Format = "avi"
	FormatM4V Format = "m4v"
	FormatMP4 Format = "mp4"
)

// ErrUnknownFormat output extension is not supported.
var ErrUnknownFormat = errors.New("unknown output format")

// Formats returns all output formats.
func Formats() []Format {
	return []Format{FormatAVI, FormatM4V, FormatMP4}
}

// ParseFormat parses a format name like "avi" or ".M4V".
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimPrefix(s, "."))
	for _, f := range Formats() {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatFromPath returns the format of the file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// Layout returns the container family layout.
func (f Format) Layout() container.Layout {
	if f == FormatAVI {
		return container.RIFF
	}
	return container.ISOBMFF
}

// Name used in reports, "AVI".
func (f Format) Name() string {
	return strings.ToUpper(string(f))
}

// Ext returns the extension including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

func (f Format) nativeMethod() string {
	if f == FormatAVI {
		return MethodNativeRIFF
	}
	return MethodNativeISOBMFF
}

// inputFormat returns the upper case extension, "MP4".
func inputFormat(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(ext)
}

// MediaExtensions picked up by batch and watch.
var MediaExtensions = []string{
	".3gp", ".avi", ".flv", ".m4v", ".mkv", ".mov",
	".mp4", ".mpeg", ".mpg", ".ts", ".webm", ".wmv",
}

// IsMedia reports whether path has a media extension.
func IsMedia(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range MediaExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// OutputPath returns the output path of input in outDir,
// an empty outDir is the input directory.
func OutputPath(input string, outDir string, f Format) string {
	if outDir == "" {
		outDir = filepath.Dir(input)
	}
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outDir, base+f.Ext())
}
