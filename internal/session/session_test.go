package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/riku-miura/wiki-rag/internal/rag"
)

func Test_New_StartsProcessing(t *testing.T) {
	t.Parallel()

	s := New("https://en.wikipedia.org/wiki/Alan_Turing")
	if s.ID == uuid.Nil {
		t.Error("session ID is nil")
	}
	if s.Status != StatusProcessing {
		t.Errorf("status = %q, want %q", s.Status, StatusProcessing)
	}
	if s.Queryable() {
		t.Error("a processing session must not be queryable")
	}
	if s.Metadata.Language != "en" {
		t.Errorf("language = %q, want %q", s.Metadata.Language, "en")
	}
}

func Test_Session_MarkReady(t *testing.T) {
	t.Parallel()

	s := New("https://en.wikipedia.org/wiki/Alan_Turing")
	s.MarkReady()
	if s.Status != StatusReady || !s.Queryable() {
		t.Errorf("status = %q, queryable = %v", s.Status, s.Queryable())
	}
}

func Test_Session_MarkFailed_RecordsCodeAndMessage(t *testing.T) {
	t.Parallel()

	s := New("https://en.wikipedia.org/wiki/Alan_Turing")
	s.MarkFailed(fmt.Errorf("%w: article does not exist", rag.ErrNotFound))

	if s.Status != StatusFailed {
		t.Errorf("status = %q, want %q", s.Status, StatusFailed)
	}
	if s.Metadata.ErrorCode != CodeNotFound {
		t.Errorf("error code = %q, want %q", s.Metadata.ErrorCode, CodeNotFound)
	}
	if s.Metadata.ErrorMessage == "" {
		t.Error("error message is empty")
	}
}

func Test_CodeForError_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{rag.ErrInvalidInput, CodeInvalidInput},
		{fmt.Errorf("wrapped: %w", rag.ErrNotFound), CodeNotFound},
		{rag.ErrUpstreamUnavailable, CodeUpstreamUnavailable},
		{rag.ErrDimensionMismatch, CodeDimensionMismatch},
		{errors.New("something else"), CodeInternal},
	}
	for _, tt := range tests {
		if got := CodeForError(tt.err); got != tt.want {
			t.Errorf("CodeForError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func Test_Status_Valid(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusProcessing, StatusReady, StatusFailed, StatusExpired} {
		if !s.Valid() {
			t.Errorf("%q reported invalid", s)
		}
	}
	if Status("done").Valid() {
		t.Error(`"done" reported valid`)
	}
}
