package db

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"wellcheck/internal/auth"
	"wellcheck/internal/checkin"
	"wellcheck/internal/conversation"
	"wellcheck/internal/jobs"
)

// Connect opens postgres for postgres:// URLs and sqlite for anything else.
func Connect(dsn string, log *zap.Logger) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}

	var dialector gorm.Dialector
	if isPostgres(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	gdb, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, err
	}

	if gdb.Dialector.Name() == "sqlite" {
		// sqlite allows one writer; serialize through a single connection
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		if err := gdb.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, err
		}
	}
	if log != nil {
		log.Info("database connected", zap.String("dialect", gdb.Dialector.Name()))
	}
	return gdb, nil
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	// Tables
	if err := gdb.AutoMigrate(
		&auth.User{},
		&checkin.Schedule{},
		&checkin.DailyLog{},
		&checkin.DailyLogEmotion{},
		&checkin.CheckIn{},
		&conversation.Conversation{},
		&conversation.Message{},
		&jobs.Job{},
	); err != nil {
		return err
	}

	// Helpful indexes
	stmts := []string{
		`create index if not exists idx_check_ins_due on check_ins(user_id, status, scheduled_time);`,
		`create index if not exists idx_messages_conversation on messages(conversation_id, id);`,
		`create index if not exists idx_jobs_due on jobs(status, run_at);`,
		`create index if not exists idx_jobs_lock on jobs(status, locked_at);`,
	}
	if gdb.Dialector.Name() == "postgres" {
		// trigger_context lookups by originating check-in
		stmts = append(stmts,
			`create index if not exists idx_check_ins_mentioned_in on check_ins ((trigger_context->>'mentioned_in'));`)
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
