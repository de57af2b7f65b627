package identity

import (
	"errors"
	"testing"
)

func TestErrNotFoundIsDistinct(t *testing.T) {
	t.Parallel()

	if !errors.Is(ErrNotFound, ErrNotFound) {
		t.Error("errors.Is(ErrNotFound, ErrNotFound) = false, want true")
	}
	if errors.Is(errors.New("user not found"), ErrNotFound) {
		t.Error("a distinct error with the same message should not satisfy errors.Is")
	}
}

func TestUpsertParamsZeroValue(t *testing.T) {
	t.Parallel()

	var p UpsertParams
	if p.TMSUserID != "" || p.Email != "" || p.DisplayName != "" {
		t.Error("UpsertParams zero value should have empty strings")
	}
	if p.ForceStale {
		t.Error("UpsertParams zero value should not force staleness")
	}
}
