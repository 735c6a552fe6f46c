// Package storetest provides an in-memory store for package tests.
package storetest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/config"
	"github.com/deannos/billing-engine-nuvaris/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var seq atomic.Int64

// New opens a migrated in-memory SQLite store closed at test end.
func New(t testing.TB) *store.GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:storetest_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), seq.Add(1))
	db, err := store.Open(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          dsn,
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return store.NewGormStore(db, zap.NewNop())
}

// Dec parses a decimal literal.
func Dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// DecP parses a decimal literal into a pointer.
func DecP(s string) *decimal.Decimal {
	d := Dec(s)
	return &d
}

// Day parses a YYYY-MM-DD date.
func Day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// AssertDec compares decimals by value.
func AssertDec(t testing.TB, want string, got decimal.Decimal, msgAndArgs ...any) bool {
	t.Helper()
	if Dec(want).Equal(got) {
		return true
	}
	return assert.Fail(t, fmt.Sprintf("decimal mismatch: want %s, got %s", want, got.String()), msgAndArgs...)
}
