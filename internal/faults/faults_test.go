package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestKindOf_WrappedError(t *testing.T) {
	base := Wrap(KindConfiguration, "credential.resolve", "secret name looks like raw JSON", nil)
	wrapped := fmt.Errorf("sweep user alice@example.com: %w", base)

	if got := KindOf(wrapped); got != KindConfiguration {
		t.Errorf("KindOf = %v, want KindConfiguration", got)
	}
	if !IsConfiguration(wrapped) {
		t.Error("IsConfiguration should see through fmt wrapping")
	}
}

func TestClassify_GoogleAPICodes(t *testing.T) {
	tests := []struct {
		code int
		want Kind
	}{
		{429, KindTransient},
		{500, KindTransient},
		{503, KindTransient},
		{401, KindAuth},
		{403, KindAuth},
		{404, KindUnknown},
	}

	for _, tc := range tests {
		err := &googleapi.Error{Code: tc.code}
		if got := Classify(err); got != tc.want {
			t.Errorf("Classify(code=%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestClassify_DeadlineIsTransient(t *testing.T) {
	if got := Classify(context.DeadlineExceeded); got != KindTransient {
		t.Errorf("Classify(DeadlineExceeded) = %v, want KindTransient", got)
	}
}

func TestClassifyChangeList_InvalidCursor(t *testing.T) {
	for _, code := range []int{400, 404, 410} {
		err := fmt.Errorf("list changes: %w", &googleapi.Error{Code: code})
		if got := ClassifyChangeList(err); got != KindChannelCorruption {
			t.Errorf("ClassifyChangeList(code=%d) = %v, want KindChannelCorruption", code, got)
		}
	}
	// 429 stays transient even on the change listing path.
	if got := ClassifyChangeList(&googleapi.Error{Code: 429}); got != KindTransient {
		t.Errorf("ClassifyChangeList(429) = %v, want KindTransient", got)
	}
}

func TestReasonOf_PreservedThroughUnwrap(t *testing.T) {
	base := New(KindAuth, "credential.resolve", "impersonation rejected for subject")
	if got := ReasonOf(base); got != "impersonation rejected for subject" {
		t.Errorf("ReasonOf = %q", got)
	}
	if got := ReasonOf(errors.New("plain")); got != "plain" {
		t.Errorf("ReasonOf(plain) = %q", got)
	}
}
