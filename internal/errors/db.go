package errors

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// reKeyField extracts the column list from "Key (field)=(value) already exists.".
	reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)
	// reNotPresent detects a missing parent: "... is not present in table ...".
	reNotPresent = regexp.MustCompile(`is not present in table "?([^"]+)"?`)
)

// tableNames maps storage tables to the names callers know them by.
var tableNames = map[string]string{
	"api_keys":              "API key",
	"transcription_tasks":   "transcription task",
	"transcription_results": "transcription result",
}

// MapDBError maps database errors to AppError instances:
//   - sql/pgx no rows → NotFound
//   - unique violations → Conflict
//   - foreign key violations → ForeignKey
//   - check and NOT NULL violations → Validation
//   - context deadline / cancellation → Timeout / Canceled
//
// Unrecognised errors are returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, ErrCodeTimeout, "Request timed out. Please try again.")
	case errors.Is(err, context.Canceled):
		return Wrap(err, ErrCodeCanceled, "Request was canceled.")
	case errors.Is(err, pgx.ErrNoRows):
		return Wrap(err, ErrCodeNotFound, "Resource not found")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}
	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		appErr := Wrap(pgErr, ErrCodeConflict, "This value already exists.")
		appErr.Field = uniqueField(pgErr)
		return appErr
	case pgerrcode.ForeignKeyViolation:
		return Wrap(pgErr, ErrCodeForeignKey, foreignKeyMessage(pgErr))
	case pgerrcode.CheckViolation:
		appErr := Wrap(pgErr, ErrCodeValidation, "Invalid data. Please check your input.")
		appErr.Field = pgErr.ColumnName
		return appErr
	case pgerrcode.NotNullViolation:
		appErr := Wrap(pgErr, ErrCodeValidation, "Required field is missing.")
		appErr.Field = pgErr.ColumnName
		return appErr
	case pgerrcode.InvalidTextRepresentation:
		return Wrap(pgErr, ErrCodeValidation, "Malformed identifier.")
	default:
		return Wrap(pgErr, ErrCodeInternal, "A database error occurred. Please try again.")
	}
}

// uniqueField prefers the column metadata, then the Detail text, then the constraint name.
func uniqueField(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return m[1]
	}
	return inferFieldFromConstraint(pgErr.ConstraintName)
}

func foreignKeyMessage(pgErr *pgconn.PgError) string {
	table := pgErr.TableName
	if m := reNotPresent.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		table = m[1]
	}
	if table == "" {
		return "Cannot complete operation because a referenced item does not exist."
	}
	return "Cannot complete operation because the referenced " + tableDisplayName(table) + " does not exist."
}

// inferFieldFromConstraint infers the column of a single-column constraint,
// e.g. "api_keys_key_hash_key" → "key_hash". Composite names return "".
func inferFieldFromConstraint(constraintName string) string {
	for table := range tableNames {
		rest, ok := strings.CutPrefix(constraintName, table+"_")
		if !ok {
			continue
		}
		for _, suffix := range []string{"_key", "_unique", "_idx"} {
			if field, found := strings.CutSuffix(rest, suffix); found && field != "" {
				return field
			}
		}
	}
	return ""
}

func tableDisplayName(table string) string {
	table = strings.ToLower(strings.TrimSpace(table))
	if name, ok := tableNames[table]; ok {
		return name
	}
	return strings.ReplaceAll(table, "_", " ")
}
