package tracecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// sqlStore keeps scalars in one table (expiry-at of 0 means the row never
// expires) and list entries in an append-only table ordered by an
// auto-incrementing sequence column.
type sqlStore struct {
	db         *sql.DB
	table      string
	listTable  string
	driverName string
	prefix     string

	getStmt        *sql.Stmt
	upsertStmt     *sql.Stmt
	deleteStmt     *sql.Stmt
	listInsertStmt *sql.Stmt
	listCountStmt  *sql.Stmt
	listRangeStmt  *sql.Stmt
	listDeleteStmt *sql.Stmt
}

var sqlIdentPartRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func newSQLStore(cfg StoreConfig) (Store, error) {
	if cfg.SQLDriverName == "" || cfg.SQLDSN == "" {
		return nil, errors.New("sql driver requires driver name and dsn")
	}
	db, err := sql.Open(cfg.SQLDriverName, cfg.SQLDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	for _, table := range []string{cfg.SQLTable, cfg.SQLListTable} {
		if err := validateSQLTableName(table); err != nil {
			return nil, err
		}
	}
	s := &sqlStore{
		db:         db,
		table:      cfg.SQLTable,
		listTable:  cfg.SQLListTable,
		driverName: cfg.SQLDriverName,
		prefix:     cfg.Prefix,
	}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) Driver() Driver { return DriverSQL }

func (s *sqlStore) ensureSchema() error {
	var scalar, list string
	switch s.driverName {
	case "postgres", "pgx":
		scalar = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k TEXT PRIMARY KEY,
			v BYTEA NOT NULL,
			ea BIGINT NOT NULL
		);`, s.table)
		list = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL PRIMARY KEY,
			k TEXT NOT NULL,
			v BYTEA NOT NULL
		);`, s.listTable)
	case "mysql":
		scalar = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k VARBINARY(255) PRIMARY KEY,
			v LONGBLOB NOT NULL,
			ea BIGINT NOT NULL
		) ENGINE=InnoDB;`, s.table)
		list = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			k VARBINARY(255) NOT NULL,
			v LONGBLOB NOT NULL
		) ENGINE=InnoDB;`, s.listTable)
	default: // sqlite
		scalar = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k TEXT PRIMARY KEY,
			v BLOB NOT NULL,
			ea INTEGER NOT NULL
		);`, s.table)
		list = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			k TEXT NOT NULL,
			v BLOB NOT NULL
		);`, s.listTable)
	}
	if _, err := s.db.Exec(scalar); err != nil {
		return err
	}
	_, err := s.db.Exec(list)
	return err
}

func (s *sqlStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	var exp int64
	err := s.getStmt.QueryRowContext(ctx, s.storeKey(key)).Scan(&v, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if exp > 0 && time.Now().UnixMilli() > exp {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}
	return cloneBytes(v), true, nil
}

func (s *sqlStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	exp := int64(0)
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixMilli()
	}
	_, err := s.upsertStmt.ExecContext(ctx, s.storeKey(key), value, exp, value, exp)
	return err
}

func (s *sqlStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var v []byte
	var exp int64
	selectSQL := fmt.Sprintf("SELECT v, ea FROM %s WHERE k = %s", s.table, s.ph(1))
	if s.driverName == "postgres" || s.driverName == "pgx" || s.driverName == "mysql" {
		selectSQL += " FOR UPDATE"
	}
	err = tx.QueryRowContext(ctx, selectSQL, s.storeKey(key)).Scan(&v, &exp)

	current := int64(0)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if err == nil {
		if exp > 0 && time.Now().UnixMilli() > exp {
			current = 0
		} else {
			current, err = strconv.ParseInt(string(v), 10, 64)
			if err != nil {
				return 0, errParseKey(key)
			}
		}
	}

	next := current + delta
	body := []byte(strconv.FormatInt(next, 10))
	upsertStmt := tx.StmtContext(ctx, s.upsertStmt)
	defer upsertStmt.Close()
	if _, err := upsertStmt.ExecContext(ctx, s.storeKey(key), body, int64(0), body, int64(0)); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *sqlStore) ListAppend(ctx context.Context, key string, value []byte) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	insertStmt := tx.StmtContext(ctx, s.listInsertStmt)
	defer insertStmt.Close()
	if _, err := insertStmt.ExecContext(ctx, s.storeKey(key), value); err != nil {
		return 0, err
	}
	countStmt := tx.StmtContext(ctx, s.listCountStmt)
	defer countStmt.Close()
	var length int64
	if err := countStmt.QueryRowContext(ctx, s.storeKey(key)).Scan(&length); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return length, nil
}

func (s *sqlStore) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	rows, err := s.listRangeStmt.QueryContext(ctx, s.storeKey(key))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		entries = append(entries, cloneBytes(v))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	lo, hi := rangeBounds(int64(len(entries)), start, stop)
	return entries[lo:hi], nil
}

func (s *sqlStore) Delete(ctx context.Context, key string) error {
	if _, err := s.deleteStmt.ExecContext(ctx, s.storeKey(key)); err != nil {
		return err
	}
	_, err := s.listDeleteStmt.ExecContext(ctx, s.storeKey(key))
	return err
}

func (s *sqlStore) Flush(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.listTable))
	return err
}

func (s *sqlStore) storeKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *sqlStore) upsertSQL() string {
	// Placeholders must be positional for postgres/pgx.
	p1, p2, p3, p4, p5 := s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5)
	switch s.driverName {
	case "postgres", "pgx":
		return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s) ON CONFLICT (k) DO UPDATE SET v = %s, ea = %s", s.table, p1, p2, p3, p4, p5)
	case "mysql":
		return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s) ON DUPLICATE KEY UPDATE v = %s, ea = %s", s.table, p1, p2, p3, p4, p5)
	default: // sqlite
		return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s) ON CONFLICT(k) DO UPDATE SET v = %s, ea = %s", s.table, p1, p2, p3, p4, p5)
	}
}

func (s *sqlStore) getSQL() string {
	return fmt.Sprintf("SELECT v, ea FROM %s WHERE k = %s", s.table, s.ph(1))
}

func (s *sqlStore) deleteSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE k = %s", s.table, s.ph(1))
}

func (s *sqlStore) listInsertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (k, v) VALUES (%s, %s)", s.listTable, s.ph(1), s.ph(2))
}

func (s *sqlStore) listCountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE k = %s", s.listTable, s.ph(1))
}

func (s *sqlStore) listRangeSQL() string {
	return fmt.Sprintf("SELECT v FROM %s WHERE k = %s ORDER BY seq", s.listTable, s.ph(1))
}

func (s *sqlStore) listDeleteSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE k = %s", s.listTable, s.ph(1))
}

func (s *sqlStore) prepareStatements() error {
	var err error
	if s.getStmt, err = s.db.Prepare(s.getSQL()); err != nil {
		return err
	}
	if s.upsertStmt, err = s.db.Prepare(s.upsertSQL()); err != nil {
		return err
	}
	if s.deleteStmt, err = s.db.Prepare(s.deleteSQL()); err != nil {
		return err
	}
	if s.listInsertStmt, err = s.db.Prepare(s.listInsertSQL()); err != nil {
		return err
	}
	if s.listCountStmt, err = s.db.Prepare(s.listCountSQL()); err != nil {
		return err
	}
	if s.listRangeStmt, err = s.db.Prepare(s.listRangeSQL()); err != nil {
		return err
	}
	if s.listDeleteStmt, err = s.db.Prepare(s.listDeleteSQL()); err != nil {
		return err
	}
	return nil
}

func (s *sqlStore) ph(i int) string {
	if s.driverName == "postgres" || s.driverName == "pgx" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func validateSQLTableName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("sql table name is required")
	}
	for _, part := range strings.Split(name, ".") {
		if !sqlIdentPartRE.MatchString(part) {
			return fmt.Errorf("invalid sql table name %q", name)
		}
	}
	return nil
}
