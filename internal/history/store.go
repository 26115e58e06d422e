package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/renderflow/config"
)

// =============================================================================
// 🗄️ 渲染历史存储
// =============================================================================

// Entry 一次渲染的历史记录
type Entry struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	Provider        string    `gorm:"size:32;index" json:"provider"`
	Prompt          string    `gorm:"type:text" json:"prompt"`
	SourcePath      string    `gorm:"size:1024" json:"source_path"`
	ConditionedPath string    `gorm:"size:1024" json:"conditioned_path,omitempty"`
	ResultPath      string    `gorm:"size:1024" json:"result_path,omitempty"`
	Seed            string    `gorm:"size:64" json:"seed,omitempty"`
	FinishReason    string    `gorm:"size:64" json:"finish_reason,omitempty"`
	JobID           string    `gorm:"size:128" json:"job_id,omitempty"`
	ErrorCode       string    `gorm:"size:64;index" json:"error_code,omitempty"`
	ErrorMessage    string    `gorm:"type:text" json:"error_message,omitempty"`
	Attempts        int       `json:"attempts"`
	DurationMS      int64     `json:"duration_ms"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

// TableName 表名
func (Entry) TableName() string { return "render_history" }

// Succeeded 是否成功
func (e *Entry) Succeeded() bool { return e.ErrorCode == "" && e.ResultPath != "" }

// Store 渲染历史存储
type Store struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool

	// 事务重试
	maxRetries  int
	baseBackoff time.Duration
}

// ErrClosed 存储已关闭
var ErrClosed = errors.New("history store is closed")

// Open 按配置打开数据库并建表
func Open(cfg config.HistoryConfig, logger *zap.Logger) (*Store, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	s, err := NewStore(db, logger)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		s.sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.DSN == ":memory:" {
		// 内存库每个连接独立，必须单连接
		s.sqlDB.SetMaxOpenConns(1)
	}
	if cfg.MaxIdleConns > 0 {
		s.sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		s.sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	s.logger.Info("history store opened",
		zap.String("driver", cfg.Driver),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)
	return s, nil
}

func dialectorFor(cfg config.HistoryConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = filepath.Join(config.DataDir(), "history.db")
		}
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil && !os.IsExist(err) {
				return nil, fmt.Errorf("create history directory: %w", err)
			}
		}
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}

// NewStore 包装已打开的 GORM DB，不执行建表
func NewStore(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	return &Store{
		db:          db,
		sqlDB:       sqlDB,
		logger:      logger.With(zap.String("component", "history")),
		maxRetries:  3,
		baseBackoff: 100 * time.Millisecond,
	}, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Migrate 创建或升级表结构
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// Record 写入一条记录
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return s.withTransactionRetry(ctx, func(tx *gorm.DB) error {
		return tx.Create(e).Error
	})
}

// List 按时间倒序返回最近 limit 条记录
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	var out []Entry
	if err := db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return out, nil
}

// Get 按 ID 查询
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var e Entry
	if err := db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get history %s: %w", id, err)
	}
	return &e, nil
}

// Ping 检查数据库连接
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	return s.sqlDB.PingContext(ctx)
}

// Close 关闭存储
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.logger.Info("closing history store")
	return s.sqlDB.Close()
}

func (s *Store) conn() (*gorm.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	return s.db, nil
}

// =============================================================================
// 🔄 事务管理
// =============================================================================

// withTransactionRetry 在事务中执行函数（带重试）
func (s *Store) withTransactionRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var lastErr error

	for i := 0; i < s.maxRetries; i++ {
		db, err := s.conn()
		if err != nil {
			return err
		}

		err = db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}

		lastErr = err

		// 检查是否可重试（例如死锁、序列化失败等）
		if !isRetryableError(err) {
			return err
		}

		s.logger.Warn("transaction failed, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_retries", s.maxRetries),
			zap.Error(err),
		)

		// 指数退避
		backoff := time.Duration(1<<uint(i)) * s.baseBackoff
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("transaction failed after %d retries: %w", s.maxRetries, lastErr)
}

// isRetryableError 判断错误是否可重试
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errMsg := strings.ToLower(err.Error())

	for _, marker := range []string{
		"deadlock",
		"serialization failure", "40001",
		"connection reset", "connection refused", "broken pipe",
		"lock timeout", "lock wait timeout",
		"database is locked",
		"bad connection",
	} {
		if strings.Contains(errMsg, marker) {
			return true
		}
	}
	return false
}
