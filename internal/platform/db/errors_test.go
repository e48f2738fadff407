package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "time_slot_doctor_start_key"}

	if !IsUniqueViolation(dup) {
		t.Error("expected unique violation")
	}
	if !IsUniqueViolation(fmt.Errorf("insert slot: %w", dup), "time_slot_doctor_start_key") {
		t.Error("expected wrapped unique violation on named constraint")
	}
	if IsUniqueViolation(dup, "app_user_email_key") {
		t.Error("expected constraint filter to reject other constraint")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Error("plain error is not a unique violation")
	}
	if IsForeignKeyViolation(dup) {
		t.Error("unique violation is not a foreign key violation")
	}
	if !IsForeignKeyViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("expected foreign key violation")
	}
}
