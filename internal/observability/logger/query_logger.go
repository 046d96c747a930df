package logger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const unknownOperation = "UNKNOWN"

// QueryLogConfig configures SQL logging for the charging store.
type QueryLogConfig struct {
	Base          *zap.Logger
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
}

func DefaultQueryLogConfig() QueryLogConfig {
	return QueryLogConfig{
		Level:         gormlogger.Warn,
		SlowThreshold: 200 * time.Millisecond,
	}
}

// ParseQueryLogLevel maps silent, error, warn or info onto gorm's levels.
func ParseQueryLogLevel(level string) (gormlogger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent", "off":
		return gormlogger.Silent, nil
	case "error":
		return gormlogger.Error, nil
	case "warn", "warning":
		return gormlogger.Warn, nil
	case "info", "debug":
		return gormlogger.Info, nil
	}
	return gormlogger.Silent, fmt.Errorf("invalid database log level %q", level)
}

// QueryLogger writes gorm output through zap, tagged with the purchase and
// customer carried on the context. A missing row is not an error here:
// repositories report absence as a nil result.
type QueryLogger struct {
	base          *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func NewQueryLogger(cfg QueryLogConfig) *QueryLogger {
	return &QueryLogger{
		base:          cfg.Base,
		level:         cfg.Level,
		slowThreshold: cfg.SlowThreshold,
	}
}

func (l *QueryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *QueryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *QueryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *QueryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *QueryLogger) message(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.level < min {
		return
	}
	if len(data) > 0 {
		msg = fmt.Sprintf(msg, data...)
	}
	l.logger(ctx).Log(level, msg)
}

// Trace logs failed statements as errors, slow ones as warnings and the rest
// at debug when the level is info.
func (l *QueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	slow := l.slowThreshold > 0 && elapsed > l.slowThreshold

	var level zapcore.Level
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		level = zapcore.ErrorLevel
	case slow && l.level >= gormlogger.Warn:
		level = zapcore.WarnLevel
	case l.level >= gormlogger.Info:
		level = zapcore.DebugLevel
	default:
		return
	}

	sql, rows := fc()
	stmt := describeSQL(sql)
	fields := []zap.Field{
		zap.String("sql", strings.TrimSpace(sql)),
		zap.String("operation", stmt.operation),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if stmt.table != "" {
		fields = append(fields, zap.String("table", stmt.table))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if slow {
		fields = append(fields, zap.Duration("slow_threshold", l.slowThreshold))
	}
	if err != nil && level == zapcore.ErrorLevel {
		fields = append(fields, zap.Error(err))
	}
	l.logger(ctx).Log(level, "sql statement", fields...)
}

// ParamsFilter drops bound values; card tokens and customer names pass
// through as parameters.
func (l *QueryLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *QueryLogger) logger(ctx context.Context) *zap.Logger {
	base := l.base
	if base == nil {
		base = zap.L()
	}
	return WithContext(ctx, base)
}

type sqlStatement struct {
	operation string
	table     string
}

// describeSQL picks the first DML verb and the table it targets.
func describeSQL(sql string) sqlStatement {
	stmt := sqlStatement{operation: unknownOperation}
	tokens := strings.Fields(sql)
	for i, token := range tokens {
		switch word := strings.ToUpper(strings.Trim(token, "();")); word {
		case "SELECT", "INSERT", "DELETE":
			if stmt.operation == unknownOperation {
				stmt.operation = word
			}
		case "UPDATE":
			if stmt.operation == unknownOperation {
				stmt.operation = word
				stmt.table = tableAt(tokens, i+1)
			}
		case "FROM", "INTO":
			if stmt.table == "" {
				stmt.table = tableAt(tokens, i+1)
			}
		}
		if stmt.operation != unknownOperation && stmt.table != "" {
			break
		}
	}
	return stmt
}

func tableAt(tokens []string, i int) string {
	if i >= len(tokens) {
		return ""
	}
	return strings.ToLower(strings.Trim(tokens[i], "\"`();"))
}

var _ gormlogger.Interface = (*QueryLogger)(nil)
