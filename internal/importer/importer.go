// Package importer loads the bot's CSV safe-export files into the stack
// database. Rows missing required fields are skipped, and rows already
// present are left untouched so the import can be re-run safely.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Export file names produced by the bot's safe-export command.
const (
	FileAliases      = "aliases_safe_export.csv"
	FileGuilds       = "guilds_safe_export.csv"
	FileStats        = "stats_safe_export.csv"
	FileSharedGroups = "shared_groups_safe_export.csv"
	FilePermissions  = "permissions_safe_export.csv"
)

// Execer is the database surface the importer needs. *pgxpool.Pool
// satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// FileSummary reports the outcome of importing one export file.
type FileSummary struct {
	File     string
	Imported int
	Skipped  int
}

// Summary aggregates per-file outcomes.
type Summary struct {
	Files []FileSummary
}

// Total returns the number of imported rows across all files.
func (s Summary) Total() int {
	total := 0
	for _, f := range s.Files {
		total += f.Imported
	}
	return total
}

// Importer reads safe-export CSVs and writes them to the database.
type Importer struct {
	db     Execer
	logger *slog.Logger
}

// New constructs an Importer.
func New(db Execer, logger *slog.Logger) (*Importer, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{db: db, logger: logger}, nil
}

// Run imports every recognized export file found in dir. Unknown files
// are ignored; a directory with no export files is an error.
func (i *Importer) Run(ctx context.Context, dir string) (Summary, error) {
	var summary Summary
	found := false
	// Guilds before aliases, groups before permissions: foreign keys.
	for _, file := range []string{FileGuilds, FileAliases, FileStats, FileSharedGroups, FilePermissions} {
		path := filepath.Join(dir, file)
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return summary, fmt.Errorf("open export %s: %w", path, err)
		}
		found = true
		fs, err := i.importFile(ctx, file, f)
		f.Close()
		if err != nil {
			return summary, fmt.Errorf("import %s: %w", file, err)
		}
		i.logger.Info("export file imported", "file", file, "imported", fs.Imported, "skipped", fs.Skipped)
		summary.Files = append(summary.Files, fs)
	}
	if !found {
		return summary, fmt.Errorf("no safe-export files found in %s", dir)
	}
	return summary, nil
}

func (i *Importer) importFile(ctx context.Context, file string, r io.Reader) (FileSummary, error) {
	rows, skipped, err := ParseFile(file, r)
	if err != nil {
		return FileSummary{}, err
	}
	summary := FileSummary{File: file, Skipped: skipped}
	for _, row := range rows {
		tag, err := i.db.Exec(ctx, row.SQL, row.Args...)
		if err != nil {
			return summary, fmt.Errorf("insert row: %w", err)
		}
		if tag.RowsAffected() == 0 {
			summary.Skipped++
			continue
		}
		summary.Imported++
	}
	return summary, nil
}

// Row is a prepared insert for one CSV record.
type Row struct {
	SQL  string
	Args []any
}

// ParseFile converts one export file into insert rows. The returned
// skipped count covers records missing required fields.
func ParseFile(file string, r io.Reader) ([]Row, int, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, 0, err
	}
	switch file {
	case FileAliases:
		return parseAliases(records)
	case FileGuilds:
		return parseGuilds(records)
	case FileStats:
		return parseStats(records)
	case FileSharedGroups:
		return parseSharedGroups(records)
	case FilePermissions:
		return parsePermissions(records)
	default:
		return nil, 0, fmt.Errorf("unknown export file %s", file)
	}
}

func readRecords(r io.Reader) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	var records []map[string]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		row := make(map[string]string, len(header))
		for idx, key := range header {
			if idx < len(record) {
				row[strings.TrimSpace(key)] = strings.TrimSpace(record[idx])
			}
		}
		records = append(records, row)
	}
	return records, nil
}

func hasAll(row map[string]string, keys ...string) bool {
	for _, key := range keys {
		if row[key] == "" {
			return false
		}
	}
	return true
}

const insertAliasSQL = `INSERT INTO character_aliases (user_id, guild_id, name, trigger, avatar_url, group_name)
	SELECT $1, $2, $3, $4, $5, NULLIF($6, '')
	WHERE NOT EXISTS (
		SELECT 1 FROM character_aliases WHERE user_id = $1 AND guild_id = $2 AND name = $3
	)`

const defaultAvatarURL = "https://cdn.discordapp.com/embed/avatars/0.png"

func parseAliases(records []map[string]string) ([]Row, int, error) {
	var rows []Row
	skipped := 0
	for _, record := range records {
		if !hasAll(record, "user_id", "guild_id", "name", "trigger") {
			skipped++
			continue
		}
		avatar := record["avatar_url"]
		if avatar == "" {
			avatar = defaultAvatarURL
		}
		rows = append(rows, Row{
			SQL: insertAliasSQL,
			Args: []any{
				record["user_id"], record["guild_id"], record["name"],
				record["trigger"], avatar, record["group_name"],
			},
		})
	}
	return rows, skipped, nil
}

const insertGuildSQL = `INSERT INTO guilds (id, name)
	SELECT $1, NULLIF($2, '')
	WHERE NOT EXISTS (SELECT 1 FROM guilds WHERE id = $1)`

func parseGuilds(records []map[string]string) ([]Row, int, error) {
	var rows []Row
	skipped := 0
	for _, record := range records {
		id := record["id"]
		if id == "" {
			id = record["guild_id"]
		}
		if id == "" {
			skipped++
			continue
		}
		rows = append(rows, Row{SQL: insertGuildSQL, Args: []any{id, record["name"]}})
	}
	return rows, skipped, nil
}

const insertStatsSQL = `INSERT INTO player_stats (user_id, guild_id, total_sessions, total_session_time_hours, sessions_as_dm, dm_time_hours)
	SELECT $1, $2, $3, $4, $5, $6
	WHERE NOT EXISTS (
		SELECT 1 FROM player_stats WHERE user_id = $1 AND guild_id = $2
	)`

func parseStats(records []map[string]string) ([]Row, int, error) {
	var rows []Row
	skipped := 0
	for _, record := range records {
		if !hasAll(record, "user_id", "guild_id") {
			skipped++
			continue
		}
		rows = append(rows, Row{
			SQL: insertStatsSQL,
			Args: []any{
				record["user_id"],
				record["guild_id"],
				intField(record, "total_sessions"),
				floatField(record, "total_session_time_hours"),
				intField(record, "sessions_as_dm"),
				floatField(record, "dm_time_hours"),
			},
		})
	}
	return rows, skipped, nil
}

const insertSharedGroupSQL = `INSERT INTO shared_groups (id, guild_id, owner_id, group_name, subgroup_name, is_single_alias, is_active, single_alias_id)
	SELECT $1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8
	WHERE NOT EXISTS (SELECT 1 FROM shared_groups WHERE id = $1)`

func parseSharedGroups(records []map[string]string) ([]Row, int, error) {
	var rows []Row
	skipped := 0
	for _, record := range records {
		if !hasAll(record, "id", "guild_id", "owner_id", "group_name") {
			skipped++
			continue
		}
		id, err := strconv.Atoi(record["id"])
		if err != nil {
			skipped++
			continue
		}
		rows = append(rows, Row{
			SQL: insertSharedGroupSQL,
			Args: []any{
				id,
				record["guild_id"],
				record["owner_id"],
				record["group_name"],
				record["subgroup_name"],
				boolField(record, "is_single_alias", false),
				boolField(record, "is_active", true),
				nullableInt(record, "single_alias_id"),
			},
		})
	}
	return rows, skipped, nil
}

const insertPermissionSQL = `INSERT INTO shared_group_permissions (shared_group_id, user_id, permission_level, granted_by)
	SELECT $1, $2, $3, $4
	WHERE NOT EXISTS (
		SELECT 1 FROM shared_group_permissions WHERE shared_group_id = $1 AND user_id = $2
	)`

func parsePermissions(records []map[string]string) ([]Row, int, error) {
	var rows []Row
	skipped := 0
	for _, record := range records {
		if !hasAll(record, "shared_group_id", "user_id") {
			skipped++
			continue
		}
		groupID, err := strconv.Atoi(record["shared_group_id"])
		if err != nil {
			skipped++
			continue
		}
		level := record["permission_level"]
		if level == "" {
			level = "speaker"
		}
		grantedBy := record["granted_by"]
		if grantedBy == "" {
			grantedBy = record["user_id"]
		}
		rows = append(rows, Row{
			SQL:  insertPermissionSQL,
			Args: []any{groupID, record["user_id"], level, grantedBy},
		})
	}
	return rows, skipped, nil
}

func intField(row map[string]string, key string) int {
	value, err := strconv.Atoi(row[key])
	if err != nil {
		return 0
	}
	return value
}

func floatField(row map[string]string, key string) float64 {
	value, err := strconv.ParseFloat(row[key], 64)
	if err != nil {
		return 0
	}
	return value
}

func boolField(row map[string]string, key string, fallback bool) bool {
	switch strings.ToLower(row[key]) {
	case "true", "t", "1", "yes":
		return true
	case "false", "f", "0", "no":
		return false
	default:
		return fallback
	}
}

// nullableInt returns the column as an int, or nil when it is empty or
// unparseable, so the insert writes SQL NULL.
func nullableInt(row map[string]string, key string) any {
	value, err := strconv.Atoi(row[key])
	if err != nil {
		return nil
	}
	return value
}
