package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a live database against the structure the store expects.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = map[string]string{
	"users":                   "User directory",
	"whiteboards":             "Whiteboard ownership and visibility",
	"whiteboard_participants": "Explicit membership and presence status",
	"schema_migrations":       "Migration tracking",
}

var requiredIndexes = map[string]string{
	"idx_whiteboards_created_by": "Ownership lookups",
	"idx_participants_user":      "Per-user membership queries",
	"idx_participants_status":    "Presence status scans",
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types.
func (v *SchemaValidator) ValidateTableStructure() error {
	expected := map[string]map[string]string{
		"users": {
			"id":    "TEXT",
			"name":  "TEXT",
			"email": "TEXT",
			"role":  "TEXT",
		},
		"whiteboards": {
			"id":         "TEXT",
			"title":      "TEXT",
			"created_by": "TEXT",
			"is_public":  "BOOLEAN",
			"created_at": "DATETIME",
		},
		"whiteboard_participants": {
			"whiteboard_id": "TEXT",
			"user_id":       "TEXT",
			"role":          "TEXT",
			"status":        "TEXT",
			"last_seen_at":  "DATETIME",
		},
	}

	for table, columns := range expected {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateConstraints exercises the foreign key and check constraints inside a
// transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO whiteboard_participants (whiteboard_id, user_id, role)
		VALUES ('constraint-check-missing', 'check-user', 'viewer')
	`); err == nil {
		return fmt.Errorf("foreign key constraint not enforced: whiteboard_participants.whiteboard_id")
	}

	if _, err := tx.Exec(`
		INSERT INTO whiteboards (id, title, created_by) VALUES ('constraint-check', 'check', 'check-user')
	`); err != nil {
		return fmt.Errorf("failed to create check whiteboard: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO whiteboard_participants (whiteboard_id, user_id, role)
		VALUES ('constraint-check', 'check-user', 'admin')
	`); err == nil {
		return fmt.Errorf("check constraint not enforced: participant role")
	}

	if _, err := tx.Exec(`
		INSERT INTO whiteboard_participants (whiteboard_id, user_id, role, status)
		VALUES ('constraint-check', 'check-user', 'viewer', 'away')
	`); err == nil {
		return fmt.Errorf("check constraint not enforced: participant status")
	}
	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, dtype  string
			notNull, pk  int
			defaultValue interface{}
		)
		if err := rows.Scan(&cid, &name, &dtype, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dtype
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, expectedType := range expectedColumns {
		actual, exists := found[column]
		if !exists {
			return fmt.Errorf("column %s not found", column)
		}
		if actual != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", column, actual, expectedType)
		}
	}
	return nil
}
