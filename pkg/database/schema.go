package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator verifies a journal database matches what the code expects
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check in order and returns the first failure
func (v *SchemaValidator) Validate() error {
	checks := []func() error{
		v.ValidateTablesExist,
		v.ValidateTableStructure,
		v.ValidateIndexes,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"live_sessions":     "Live run journal",
		"attendance_events": "Received attendance events",
		"schema_migrations": "Migration tracking",
	}

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

// ValidateTableStructure verifies column names and declared types
func (v *SchemaValidator) ValidateTableStructure() error {
	sessionColumns := map[string]string{
		"id":         "TEXT",
		"class_id":   "TEXT",
		"start_time": "DATETIME",
		"end_time":   "DATETIME",
		"roster":     "TEXT",
		"started_at": "DATETIME",
		"stopped_at": "DATETIME",
	}
	if err := v.validateColumns("live_sessions", sessionColumns); err != nil {
		return fmt.Errorf("live_sessions table structure invalid: %w", err)
	}

	eventColumns := map[string]string{
		"id":          "TEXT",
		"session_id":  "TEXT",
		"student_id":  "TEXT",
		"name":        "TEXT",
		"action":      "TEXT",
		"event_time":  "DATETIME",
		"received_at": "DATETIME",
	}
	if err := v.validateColumns("attendance_events", eventColumns); err != nil {
		return fmt.Errorf("attendance_events table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that the lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_live_sessions_started":  "Recent run listing",
		"idx_events_session_time":    "Event replay in time order",
		"idx_events_session_student": "Per-student interval building",
	}

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

// ValidateConstraints verifies foreign key and action check enforcement
// TECHNICAL DISCOVERY: writes probe rows and removes them; run it against a
// scratch or freshly migrated database only
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO attendance_events (id, session_id, action, event_time, received_at)
		VALUES ('probe-event', 'probe-missing', 'in', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM attendance_events WHERE id = 'probe-event'")
		return fmt.Errorf("foreign key constraint not enforced: attendance_events.session_id")
	}

	_, err = v.db.Exec(`
		INSERT INTO live_sessions (id, started_at) VALUES ('probe-session', CURRENT_TIMESTAMP)
	`)
	if err != nil {
		return fmt.Errorf("failed to create probe session: %w", err)
	}
	defer func() { _, _ = v.db.Exec("DELETE FROM live_sessions WHERE id = 'probe-session'") }()

	_, err = v.db.Exec(`
		INSERT INTO attendance_events (id, session_id, action, event_time, received_at)
		VALUES ('probe-event', 'probe-session', 'sideways', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM attendance_events WHERE id = 'probe-event'")
		return fmt.Errorf("check constraint not enforced: attendance_events.action")
	}

	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
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

	foundColumns := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue interface{}
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
