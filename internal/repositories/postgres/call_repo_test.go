package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yoockh/callguard/internal/models"
)

// dryRunDB renders Postgres SQL without a server.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(pgdriver.New(pgdriver.Config{
		DSN: "host=localhost user=callguard dbname=callguard sslmode=disable",
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)
	return db
}

func TestInsertPlaceholder_SecondWriterIsNoOp(t *testing.T) {
	db := dryRunDB(t)

	res := insertPlaceholder(db, &models.CallRecord{
		CallID:      42,
		UserID:      7,
		Placeholder: true,
		StartTime:   time.Now(),
	})
	require.NoError(t, res.Error)

	sql := res.Statement.SQL.String()
	assert.Contains(t, sql, `INSERT INTO "call_records"`)
	assert.Contains(t, sql, `ON CONFLICT ("call_id") DO NOTHING`)
	assert.Contains(t, res.Statement.Vars, any(int64(42)))
}
