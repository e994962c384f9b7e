// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap(nil, "msg") != nil {
		t.Error("Wrap(nil, msg) should return nil")
	}
	err := errors.New("base")
	wrapped := Wrap(err, "context")
	if wrapped == nil {
		t.Fatal("Wrap(err, msg) should not return nil")
	}
	if !errors.Is(wrapped, err) {
		t.Error("wrapped error should unwrap to base")
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "format %s", "x") != nil {
		t.Error("Wrapf(nil, ...) should return nil")
	}
	err := errors.New("base")
	wrapped := Wrapf(err, "id=%s", "a")
	if !errors.Is(wrapped, err) {
		t.Error("wrapped error should unwrap to base")
	}
}

func TestTransportError(t *testing.T) {
	err := fmt.Errorf("get session: %w", NewTransportError("GET session", 404, "missing"))
	te, ok := GetTransportError(err)
	if !ok {
		t.Fatal("GetTransportError should find wrapped error")
	}
	if te.Status != 404 || te.Body != "missing" {
		t.Errorf("unexpected transport error: %+v", te)
	}
	if !errors.Is(err, ErrSessionNotFound) {
		t.Error("404 transport error should match ErrSessionNotFound")
	}
	if errors.Is(NewTransportError("x", 500, ""), ErrSessionNotFound) {
		t.Error("500 should not match ErrSessionNotFound")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("id", "missing")
	if !IsValidationError(err) {
		t.Error("IsValidationError should be true")
	}
	if !errors.Is(err, ErrValidation) {
		t.Error("ValidationError should unwrap to ErrValidation")
	}
}

func TestUserMessage(t *testing.T) {
	cases := []error{
		ErrTimeout, ErrConnection, ErrSessionNotFound, ErrStreamAborted,
		NewValidationError("f", "m"), NewTransportError("op", 502, "bad gateway"), errors.New("other"),
	}
	seen := map[string]bool{}
	for _, err := range cases {
		msg := UserMessage(err)
		if msg == "" {
			t.Errorf("UserMessage(%v) empty", err)
		}
		seen[msg] = true
	}
	if len(seen) != len(cases) {
		t.Errorf("expected one distinct message per class, got %d", len(seen))
	}
	if UserMessage(nil) != "" {
		t.Error("UserMessage(nil) should be empty")
	}
	if got := UserMessage(NewTransportError("op", 500, "stack trace here")); got == "" || strings.Contains(got, "stack trace") {
		t.Errorf("transport body must not leak: %q", got)
	}
}
