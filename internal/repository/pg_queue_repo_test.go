package repository

import (
	"testing"
	"time"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

func TestBuildPatchSet(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		patch    domain.EntryPatch
		wantSet  string
		wantArgs int
	}{
		{
			name:     "call patient",
			patch:    domain.EntryPatch{Status: domain.StatusPtr(domain.StatusInProgress), ClearPosition: true, CalledAt: &at},
			wantSet:  "status = $1, queue_position = NULL, called_at = $2, updated_at = NOW()",
			wantArgs: 2,
		},
		{
			name:     "bump skip count",
			patch:    domain.EntryPatch{SkipCount: domain.IntPtr(2)},
			wantSet:  "skip_count = $1, updated_at = NOW()",
			wantArgs: 1,
		},
		{
			name:     "return to tail",
			patch:    domain.EntryPatch{Status: domain.StatusPtr(domain.StatusWaiting), Position: domain.IntPtr(7)},
			wantSet:  "status = $1, queue_position = $2, updated_at = NOW()",
			wantArgs: 2,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			set, args := buildPatchSet(tc.patch)
			if set != tc.wantSet {
				t.Fatalf("expected %q, got %q", tc.wantSet, set)
			}
			if len(args) != tc.wantArgs {
				t.Fatalf("expected %d args, got %d", tc.wantArgs, len(args))
			}
		})
	}
}
