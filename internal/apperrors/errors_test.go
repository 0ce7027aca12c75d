package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/docstore"
)

func TestFromStoreClassifiesStoreErrors(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		kind Kind
		code string
	}{
		{name: "missing item", err: docstore.ErrItemNotFound, kind: KindNotFound, code: "jobs.get.not_found"},
		{name: "condition", err: fmt.Errorf("put: %w", docstore.ErrConditionFailed), kind: KindConflict, code: "jobs.get.condition_failed"},
		{name: "missing table", err: fmt.Errorf("%w: jobs", docstore.ErrTableNotFound), kind: KindTableUnavailable, code: "jobs.get.table_missing"},
		{name: "anything else", err: errors.New("connection reset"), kind: KindTransientStore, code: "jobs.get.store_error"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			mapped := FromStore("jobs.get", testCase.err)
			var appErr *Error
			if !errors.As(mapped, &appErr) {
				t.Fatalf("expected *Error, got %T", mapped)
			}
			if appErr.Kind() != testCase.kind || appErr.Code() != testCase.code {
				t.Fatalf("got %s/%s, want %s/%s", appErr.Kind(), appErr.Code(), testCase.kind, testCase.code)
			}
			if !errors.Is(mapped, testCase.err) {
				t.Fatalf("expected the store error to remain in the chain")
			}
		})
	}
}

func TestFromStoreKeepsClassifiedErrors(t *testing.T) {
	original := Conflict("hiring.decide", "already_decided", "application already decided")
	if mapped := FromStore("hiring.decide", fmt.Errorf("wrapped: %w", original)); !Is(mapped, KindConflict) {
		t.Fatalf("expected conflict kind to survive, got %v", mapped)
	}
	if FromStore("noop", nil) != nil {
		t.Fatalf("expected nil for nil input")
	}
}

func TestMessageFallsBackToCode(t *testing.T) {
	err := TransientStore("notifications.send", "store_error", errors.New("boom"))
	if err.Message() != "notifications.send.store_error" {
		t.Fatalf("unexpected message %q", err.Message())
	}
	if err.Error() != "notifications.send.store_error: boom" {
		t.Fatalf("unexpected error text %q", err.Error())
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("expected no kind for plain errors")
	}
}
