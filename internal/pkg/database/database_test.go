package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestConfig_Validate(t *testing.T) {
	valid := func(mutate func(c *Config)) *Config {
		c := DefaultConfig()
		mutate(c)
		return c
	}

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "default config", config: DefaultConfig()},
		{name: "missing host", config: valid(func(c *Config) { c.Host = "" }), wantErr: true},
		{name: "invalid port", config: valid(func(c *Config) { c.Port = 0 }), wantErr: true},
		{name: "missing user", config: valid(func(c *Config) { c.User = "" }), wantErr: true},
		{name: "missing database", config: valid(func(c *Config) { c.DBName = "" }), wantErr: true},
		{name: "invalid SSL mode", config: valid(func(c *Config) { c.SSLMode = "maybe" }), wantErr: true},
		{name: "invalid log level", config: valid(func(c *Config) { c.LogLevel = "trace" }), wantErr: true},
		{
			name:    "idle exceeds open",
			config:  valid(func(c *Config) { c.MaxIdleConns, c.MaxOpenConns = 100, 10 }),
			wantErr: true,
		},
		{name: "negative slow threshold", config: valid(func(c *Config) { c.SlowThreshold = -1 }), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	c := DefaultConfig()
	c.Timezone = ""
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=postgres dbname=bookshelf sslmode=disable TimeZone=UTC",
		c.DSN())
}

type pageRow struct {
	ID string
}

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: DefaultConfig().DSN()}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return db
}

func TestPaginate(t *testing.T) {
	db := dryRunDB(t)

	tests := []struct {
		name     string
		page     int
		pageSize int
		want     string
	}{
		{name: "second page", page: 2, pageSize: 10, want: "LIMIT 10 OFFSET 10"},
		{name: "page below one", page: 0, pageSize: 10, want: "LIMIT 10"},
		{name: "default page size", page: 1, pageSize: 0, want: "LIMIT 20"},
		{name: "page size capped", page: 3, pageSize: 500, want: "LIMIT 100 OFFSET 200"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
				var rows []pageRow
				return tx.Table("rows").Scopes(Paginate(tt.page, tt.pageSize)).Find(&rows)
			})
			assert.Contains(t, sql, tt.want)
		})
	}
}

func TestNewest(t *testing.T) {
	db := dryRunDB(t)
	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var rows []pageRow
		return tx.Table("rows").Scopes(Newest).Find(&rows)
	})
	assert.Contains(t, sql, "ORDER BY created_at DESC,id DESC")
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsRecordNotFoundError(fmt.Errorf("lookup: %w", gorm.ErrRecordNotFound)))
	assert.False(t, IsRecordNotFoundError(nil))
	assert.True(t, IsForeignKeyViolation(fmt.Errorf("insert: %w", gorm.ErrForeignKeyViolated)))
	assert.False(t, IsForeignKeyViolation(errors.New("boom")))
}

func TestTransactionContext(t *testing.T) {
	ctx := context.Background()
	_, ok := TransactionFromContext(ctx)
	assert.False(t, ok)

	tx := &gorm.DB{}
	got, ok := TransactionFromContext(ContextWithTransaction(ctx, tx))
	require.True(t, ok)
	assert.Same(t, tx, got)

	db := Wrap(dryRunDB(t), nil, nil)
	assert.Same(t, tx, db.Conn(ContextWithTransaction(ctx, tx)))
	assert.NotSame(t, tx, db.Conn(ctx))
}
