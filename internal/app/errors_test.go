package app

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestErrorConstructors(t *testing.T) {
	cases := []struct {
		name string
		err  *DomainError
		want DomainError
	}{
		{
			name: "validation",
			err:  validationError("label is required", nil),
			want: DomainError{Status: http.StatusUnprocessableEntity, Code: "VALIDATION_ERROR", Message: "label is required"},
		},
		{
			name: "bad row",
			err:  itemRowError("row has no fields to update", "backup-sop"),
			want: DomainError{Status: http.StatusUnprocessableEntity, Code: "VALIDATION_ERROR", Message: "row has no fields to update", Details: map[string]any{"item_id": "backup-sop"}},
		},
		{
			name: "unknown item in batch",
			err:  unknownItemError(http.StatusUnprocessableEntity, "nope"),
			want: DomainError{Status: http.StatusUnprocessableEntity, Code: "UNKNOWN_ITEM", Message: "Unknown checklist item", Details: map[string]any{"item_id": "nope"}},
		},
		{
			name: "unknown item route",
			err:  unknownItemError(http.StatusNotFound, ""),
			want: DomainError{Status: http.StatusNotFound, Code: "UNKNOWN_ITEM", Message: "Unknown checklist item"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, *tc.err); diff != "" {
				t.Fatalf("error mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMapErrorUnwrapsDomainErrors(t *testing.T) {
	err := fmt.Errorf("upsert: %w", unknownItemError(http.StatusUnprocessableEntity, "nope"))
	status, code, message, details := mapError(err)
	if status != http.StatusUnprocessableEntity || code != "UNKNOWN_ITEM" || message != "Unknown checklist item" {
		t.Fatalf("mapError() = %d %s %q", status, code, message)
	}
	if diff := cmp.Diff(map[string]any{"item_id": "nope"}, details); diff != "" {
		t.Fatalf("details mismatch (-want +got):\n%s", diff)
	}
	if got := unknownItemError(http.StatusNotFound, "x").Error(); got != "UNKNOWN_ITEM: Unknown checklist item" {
		t.Fatalf("Error() = %q", got)
	}
}
