package invoke

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "RigForge/internal/errors"
)

// MySQLStore 使用 MySQL 记录调用状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewMySQLStoreWithDB 复用已建立的连接池。调用方负责通过迁移保证表结构，
// 这里不再自动建表。
func NewMySQLStoreWithDB(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS invocations (
        id VARCHAR(64) PRIMARY KEY,
        action_id VARCHAR(128) NOT NULL,
        preset VARCHAR(128) DEFAULT '',
        overrides TEXT,
        params TEXT,
        status VARCHAR(32) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_retries INT NOT NULL DEFAULT 3,
        last_error TEXT,
        error_code VARCHAR(64) DEFAULT '',
        result_nodes TEXT,
        result_output TEXT,
        result_observations TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_invocation_action (action_id),
        INDEX idx_invocation_status (status),
        INDEX idx_invocation_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 invocations 表失败")
	}
	if _, err := s.db.Exec(`ALTER TABLE invocations ADD COLUMN preset VARCHAR(128) DEFAULT '' AFTER action_id`); err != nil {
		var mysqlErr *mysql.MySQLError
		if !(stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1060) {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "扩展 invocations.preset 失败")
		}
	}
	if _, err := s.db.Exec(`ALTER TABLE invocations ADD COLUMN params TEXT AFTER overrides`); err != nil {
		var mysqlErr *mysql.MySQLError
		if !(stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1060) {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "扩展 invocations.params 失败")
		}
	}
	return nil
}

// Create 插入新的调用记录。
func (s *MySQLStore) Create(ctx context.Context, inv *Invocation) error {
	if inv == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "invocation 不能为空")
	}
	if strings.TrimSpace(inv.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "调用 ID 不能为空")
	}

	now := time.Now().Unix()
	inv.CreatedAt = now
	inv.UpdatedAt = now

	overridesValue, err := marshalJSONColumn(inv.Overrides)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码调用 overrides 失败")
	}

	const stmt = `INSERT INTO invocations
        (id, action_id, preset, overrides, params, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, NULL, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		inv.ID,
		inv.ActionID,
		inv.Preset,
		overridesValue,
		inv.Status,
		inv.Attempts,
		inv.MaxRetries,
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrInvocationConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入调用失败")
	}
	return nil
}

const selectColumns = `id, action_id, preset, overrides, params, status, attempts, max_retries, last_error, error_code,
        result_nodes, result_output, result_observations, created_at, updated_at`

// Get 查询指定调用。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Invocation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM invocations WHERE id = ?`, id)
	inv, err := scanInvocation(row.Scan)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvocationNotFound
		}
		return nil, err
	}
	return inv, nil
}

// Claim 将调用转入校验阶段并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Invocation, error) {
	const updateStmt = `UPDATE invocations SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusValidating,
		now,
		id,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新调用状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		inv, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch inv.Status {
		case StatusSucceeded:
			return inv, ErrInvocationCompleted
		case StatusValidating, StatusRunning:
			return inv, ErrInvocationConflict
		default:
			if inv.Attempts >= inv.MaxRetries {
				return inv, ErrInvocationExhausted
			}
			return inv, ErrInvocationConflict
		}
	}
	return s.Get(ctx, id)
}

// MarkRunning 记录校验通过的参数快照并转入执行阶段。
func (s *MySQLStore) MarkRunning(ctx context.Context, id string, params map[string]any) error {
	paramsValue, err := marshalJSONColumn(params)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码调用 params 失败")
	}

	const stmt = `UPDATE invocations SET status = ?, params = ?, updated_at = ? WHERE id = ? AND status = ?`
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt, StatusRunning, paramsValue, now, id, StatusValidating)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记调用运行中失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrInvocationConflict
	}
	return nil
}

// MarkSucceeded 将调用标记为成功。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error {
	nodesValue, err := marshalJSONColumn(result.AffectedNodes)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码结果节点失败")
	}
	outputValue, err := marshalJSONColumn(result.Output)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码结果输出失败")
	}

	const stmt = `UPDATE invocations SET status = ?, result_nodes = ?, result_output = ?, result_observations = ?,
        updated_at = ?, last_error = '', error_code = '' WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusSucceeded,
		nodesValue,
		outputValue,
		result.Observations,
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记调用成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrInvocationNotFound
	}
	return nil
}

// MarkFailed 将调用标记为失败，并在必要时终止重试。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	const stmt = `UPDATE invocations SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusFailed,
		lastError,
		string(code),
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记调用失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrInvocationNotFound
	}
	return nil
}

// List 返回符合过滤条件的调用。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Invocation, error) {
	opts.applyDefaults()

	query := `SELECT ` + selectColumns + ` FROM invocations`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询调用列表失败")
	}
	defer rows.Close()

	invocations := make([]*Invocation, 0, opts.Limit)
	for rows.Next() {
		inv, err := scanInvocation(rows.Scan)
		if err != nil {
			return nil, err
		}
		invocations = append(invocations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历调用失败")
	}
	return invocations, nil
}

// Stats 返回符合过滤条件的调用聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (InvocationStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS pending,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS validating,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS running,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS succeeded,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM invocations`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{
		string(StatusPending),
		string(StatusValidating),
		string(StatusRunning),
		string(StatusSucceeded),
		string(StatusFailed),
	}
	args = append(args, filterArgs...)

	row := s.db.QueryRowContext(ctx, query, args...)

	var stats InvocationStats
	if err := row.Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Validating,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return InvocationStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询调用统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanInvocation(scan func(dest ...any) error) (*Invocation, error) {
	var inv Invocation
	var preset sql.NullString
	var overrides, params sql.NullString
	var resultNodes, resultOutput, resultObservations sql.NullString

	if err := scan(
		&inv.ID,
		&inv.ActionID,
		&preset,
		&overrides,
		&params,
		&inv.Status,
		&inv.Attempts,
		&inv.MaxRetries,
		&inv.LastError,
		&inv.ErrorCode,
		&resultNodes,
		&resultOutput,
		&resultObservations,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析调用记录失败")
	}

	inv.Preset = preset.String

	decodedOverrides, err := unmarshalValues(overrides)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析调用 overrides 失败")
	}
	inv.Overrides = decodedOverrides

	decodedParams, err := unmarshalValues(params)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析调用 params 失败")
	}
	inv.Params = decodedParams

	result := ExecutionResult{Observations: resultObservations.String}
	if resultNodes.Valid && strings.TrimSpace(resultNodes.String) != "" {
		if err := json.Unmarshal([]byte(resultNodes.String), &result.AffectedNodes); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析结果节点失败")
		}
	}
	if resultOutput.Valid && strings.TrimSpace(resultOutput.String) != "" {
		if err := json.Unmarshal([]byte(resultOutput.String), &result.Output); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析结果输出失败")
		}
	}
	if len(result.AffectedNodes) > 0 || len(result.Output) > 0 || result.Observations != "" {
		inv.Result = &result
	}
	return &inv, nil
}

func marshalJSONColumn(value any) (sql.NullString, error) {
	switch v := value.(type) {
	case nil:
		return sql.NullString{}, nil
	case map[string]any:
		if len(v) == 0 {
			return sql.NullString{}, nil
		}
	case []string:
		if len(v) == 0 {
			return sql.NullString{}, nil
		}
	}
	bytes, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalValues(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var values map[string]any
	if err := json.Unmarshal([]byte(raw.String), &values); err != nil {
		return nil, err
	}
	return values, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 8)

	if opts.ActionID != "" {
		conditions = append(conditions, "action_id = ?")
		args = append(args, opts.ActionID)
	}
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "(COALESCE(result_nodes, '') <> '' OR COALESCE(result_output, '') <> '' OR COALESCE(result_observations, '') <> '')")
		} else {
			conditions = append(conditions, "(COALESCE(result_nodes, '') = '' AND COALESCE(result_output, '') = '' AND COALESCE(result_observations, '') = '')")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR action_id LIKE ? OR preset LIKE ? OR overrides LIKE ? OR last_error LIKE ? OR error_code LIKE ? OR result_nodes LIKE ? OR result_observations LIKE ?)")
		args = append(args,
			pattern,
			pattern,
			pattern,
			pattern,
			pattern,
			pattern,
			pattern,
			pattern,
		)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
