package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/apperr"
)

func TestKindOf_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("assign: %w", apperr.AlreadyClaimed("Wolf", "123"))
	if got := apperr.KindOf(err); got != apperr.KindAlreadyClaimed {
		t.Fatalf("KindOf = %v, want AlreadyClaimed", got)
	}
	e, ok := apperr.As(err)
	if !ok || e.OwnerRoleID != "123" || e.Flag != "Wolf" {
		t.Fatalf("As = %+v, %v", e, ok)
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if got := apperr.KindOf(errors.New("boom")); got != apperr.KindUnknown {
		t.Fatalf("KindOf = %v, want Unknown", got)
	}
	if got := apperr.KindOf(nil); got != apperr.KindUnknown {
		t.Fatalf("KindOf(nil) = %v, want Unknown", got)
	}
}

func TestIs_MatchesByKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", apperr.InvalidFlag("nope"))
	if !errors.Is(err, apperr.New(apperr.KindInvalidFlag)) {
		t.Fatal("errors.Is should match on kind")
	}
	if errors.Is(err, apperr.New(apperr.KindInvalidMap)) {
		t.Fatal("errors.Is matched a different kind")
	}
}

func TestKinds_AllNamed(t *testing.T) {
	kinds := apperr.Kinds()
	if len(kinds) != 15 {
		t.Fatalf("len(Kinds) = %d, want 15", len(kinds))
	}
	for _, k := range kinds {
		if s := k.String(); s == "" || s[:4] == "Kind" {
			t.Errorf("kind %d has no name", int(k))
		}
	}
}

func TestError_MessageIncludesPartial(t *testing.T) {
	err := apperr.CreationFailed(errors.New("role create"), []string{"channel 42"})
	want := "CreationFailed partial=[channel 42]: role create"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestConstructors_Kinds(t *testing.T) {
	tests := []struct {
		name string
		err  *apperr.Error
		want apperr.Kind
	}{
		{"InvalidFlag", apperr.InvalidFlag("x"), apperr.KindInvalidFlag},
		{"InvalidMap", apperr.InvalidMap("x"), apperr.KindInvalidMap},
		{"AlreadyClaimed", apperr.AlreadyClaimed("Wolf", "1"), apperr.KindAlreadyClaimed},
		{"RoleAlreadyOwnsFlag", apperr.RoleAlreadyOwnsFlag("Wolf"), apperr.KindRoleAlreadyOwnsFlag},
		{"FactionNotFound", apperr.FactionNotFound("x"), apperr.KindFactionNotFound},
		{"FactionExists", apperr.FactionExists("x"), apperr.KindFactionExists},
		{"StoreUnavailable", apperr.StoreUnavailable(errors.New("down")), apperr.KindStoreUnavailable},
		{"CreationFailed", apperr.CreationFailed(errors.New("x"), nil), apperr.KindCreationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := apperr.KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %v, want %v", got, tt.want)
			}
		})
	}
}
