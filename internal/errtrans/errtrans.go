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

// Package errtrans maps OS error numbers onto the closed error codes of a component.
//
// Each component declares one Table. Translate is total: an error that is not an
// errno, or an errno without an entry, yields the table's default.
package errtrans

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/srediag/shmipc-core/internal/logging"
)

// Entry is the outcome for one errno. Message is a format string receiving the
// resource name; an empty Message marks an expected outcome that is not logged.
type Entry[C any] struct {
	Code    C
	Message string
}

// Table translates errnos of one component.
type Table[C any] struct {
	Entries map[unix.Errno]Entry[C]
	Default Entry[C]
	Logger  *logging.Logger
}

// Lookup returns the entry for err without logging.
func (t *Table[C]) Lookup(err error) Entry[C] {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return t.Default
	}
	if e, ok := t.Entries[errno]; ok {
		return e
	}
	return t.Default
}

// Translate returns the code for err and logs the entry's message for resource.
func (t *Table[C]) Translate(err error, resource string) C {
	e := t.Lookup(err)
	if e.Message != "" && t.Logger != nil {
		t.Logger.Errorf(e.Message, resource)
	}
	return e.Code
}
