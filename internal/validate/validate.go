/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package validate holds the naming rules for lock files and shared memory objects.
package validate

import "strings"

const (
	// MaxFileNameLength is the longest accepted single path entry.
	MaxFileNameLength = 255
	// MaxPathLength is the longest accepted path, terminator excluded.
	MaxPathLength = 4095

	PathSeparator = '/'
)

// IsValidFileName reports whether name is usable as a single path entry.
// Accepted characters are ASCII letters, digits and "-._:"; "." and ".." are
// rejected since they do not name a file.
func IsValidFileName(name string) bool {
	if name == "" || len(name) > MaxFileNameLength {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isValidFileNameChar(name[i]) {
			return false
		}
	}
	return true
}

// IsValidPathToDirectory reports whether path is a syntactically valid
// directory path, absolute or relative, with or without a trailing separator.
func IsValidPathToDirectory(path string) bool {
	if path == "" || len(path) > MaxPathLength {
		return false
	}
	for _, entry := range strings.Split(path, string(PathSeparator)) {
		switch entry {
		case "", ".", "..":
			continue
		}
		if !IsValidFileName(entry) {
			return false
		}
	}
	return true
}

// EndsWithPathSeparator reports whether path ends with a separator.
func EndsWithPathSeparator(path string) bool {
	return path != "" && path[len(path)-1] == PathSeparator
}

func isValidFileNameChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == ':':
		return true
	}
	return false
}
