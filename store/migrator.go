package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/assetvault/internal/version"
)

// Migration System Overview:
//
// Fresh databases are initialized from migration/{driver}/LATEST.sql and the
// schema version shipped with the binary is recorded in system_setting.
// Existing databases are checked against that version so a newer database is
// never opened by an older binary.

//go:embed migration
var migrationFS embed.FS

const (
	// LatestSchemaFileName is the name of the latest schema file.
	LatestSchemaFileName = "LATEST.sql"

	// SchemaVersionSettingName is the system_setting key holding the schema version.
	SchemaVersionSettingName = "schema_version"

	// defaultSchemaVersion is used when schema version is empty or not set.
	defaultSchemaVersion = "0.0.0"
)

func getSchemaVersionOrDefault(schemaVersion string) string {
	if schemaVersion == "" {
		return defaultSchemaVersion
	}
	return schemaVersion
}

// Migrate initializes the database schema when needed and validates the recorded schema version.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.preMigrate(ctx); err != nil {
		return errors.Wrap(err, "failed to pre-migrate")
	}

	databaseVersion, err := s.driver.GetSystemSetting(ctx, SchemaVersionSettingName)
	if err != nil {
		return errors.Wrap(err, "failed to get schema version")
	}
	databaseVersion = getSchemaVersionOrDefault(databaseVersion)
	if version.IsVersionGreaterThan(databaseVersion, version.SchemaVersion) {
		slog.Error("cannot downgrade schema version",
			slog.String("databaseVersion", databaseVersion),
			slog.String("currentVersion", version.SchemaVersion),
		)
		return errors.Errorf("cannot downgrade schema version from %s to %s", databaseVersion, version.SchemaVersion)
	}
	if version.IsVersionGreaterThan(version.SchemaVersion, databaseVersion) {
		if err := s.driver.UpsertSystemSetting(ctx, SchemaVersionSettingName, version.SchemaVersion); err != nil {
			return errors.Wrap(err, "failed to update schema version")
		}
	}
	return nil
}

// preMigrate checks if the database is initialized and applies the latest schema if not.
func (s *Store) preMigrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check if database is initialized")
	}
	if initialized {
		return nil
	}

	filePath := s.getMigrationBasePath() + LatestSchemaFileName
	bytes, err := migrationFS.ReadFile(filePath)
	if err != nil {
		return errors.Errorf("failed to read latest schema file: %s", err)
	}
	tx, err := s.driver.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()
	slog.Info("initializing new database with latest schema", slog.String("file", filePath))
	if err := s.execute(ctx, tx, string(bytes)); err != nil {
		return errors.Errorf("failed to execute SQL file %s, err %s", filePath, err)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	slog.Info("database initialized successfully", slog.String("schemaVersion", version.SchemaVersion))
	if err := s.driver.UpsertSystemSetting(ctx, SchemaVersionSettingName, version.SchemaVersion); err != nil {
		return errors.Wrap(err, "failed to update current schema version")
	}
	return nil
}

func (s *Store) getMigrationBasePath() string {
	return fmt.Sprintf("migration/%s/", s.profile.Driver)
}

// execute executes a SQL script within a transaction, one statement at a time.
func (s *Store) execute(ctx context.Context, tx *sql.Tx, script string) error {
	for i, stmt := range splitSQL(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to execute statement %d: %s", i+1, stmt)
		}
	}
	return nil
}

// splitSQL splits a multi-statement SQL script into individual statements.
// Single-quoted strings, dollar-quoted bodies and comments are honored.
func splitSQL(script string) []string {
	var statements []string
	var currentStmt strings.Builder

	inDollarQuote := false
	dollarQuoteTag := ""
	inSingleQuote := false
	inMultiLineComment := false

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") && !inDollarQuote && !inSingleQuote && !inMultiLineComment {
			continue
		}
		if trimmed == "" && !inDollarQuote {
			continue
		}

		i := 0
		for i < len(line) {
			ch := line[i]

			if ch == '$' && !inSingleQuote && !inMultiLineComment {
				tagEnd := i + 1
				for tagEnd < len(line) && line[tagEnd] != '$' {
					tagEnd++
				}
				if tagEnd < len(line) {
					tag := line[i : tagEnd+1]
					if inDollarQuote && tag == dollarQuoteTag {
						inDollarQuote = false
						dollarQuoteTag = ""
						currentStmt.WriteString(tag)
						i = tagEnd + 1
						continue
					} else if !inDollarQuote {
						inDollarQuote = true
						dollarQuoteTag = tag
						currentStmt.WriteString(tag)
						i = tagEnd + 1
						continue
					}
				}
			}

			if ch == '\'' && !inDollarQuote && !inMultiLineComment {
				inSingleQuote = !inSingleQuote
				currentStmt.WriteByte(ch)
				i++
				continue
			}

			if !inSingleQuote && !inDollarQuote && i+1 < len(line) && line[i:i+2] == "/*" {
				inMultiLineComment = true
				i += 2
				continue
			}
			if inMultiLineComment {
				if i+1 < len(line) && line[i:i+2] == "*/" {
					inMultiLineComment = false
					i += 2
					continue
				}
				i++
				continue
			}

			if !inSingleQuote && !inDollarQuote && ch == '-' && i+1 < len(line) && line[i+1] == '-' {
				break
			}

			if ch == ';' && !inSingleQuote && !inDollarQuote {
				if stmt := strings.TrimSpace(currentStmt.String()); stmt != "" {
					statements = append(statements, stmt)
				}
				currentStmt.Reset()
				i++
				continue
			}

			currentStmt.WriteByte(ch)
			i++
		}

		if currentStmt.Len() > 0 {
			currentStmt.WriteString("\n")
		}
	}

	if stmt := strings.TrimSpace(currentStmt.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}
