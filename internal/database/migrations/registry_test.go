package migrations

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/surajit20072003/heygemd/internal/models"
)

// setupMigrator opens an in-memory database with the full registry loaded.
func setupMigrator(t *testing.T) (*gorm.DB, *Migrator) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())
	return db, migrator
}

func TestAllMigrations_VersionsAreUnique(t *testing.T) {
	versions := make(map[string]bool)
	for _, m := range AllMigrations() {
		assert.False(t, versions[m.Version], "duplicate version: %s", m.Version)
		versions[m.Version] = true
	}
}

func TestAllMigrations_VersionsAreOrdered(t *testing.T) {
	migrations := AllMigrations()
	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version,
			"migrations should be in ascending version order")
	}
}

func TestMigrator_Up_AllMigrations(t *testing.T) {
	db, migrator := setupMigrator(t)
	ctx := context.Background()

	require.NoError(t, migrator.Up(ctx))

	assert.True(t, db.Migrator().HasTable("avatars"))
	assert.True(t, db.Migrator().HasTable("schema_migrations"))

	// The migrated schema accepts a real row.
	avatar := &models.Avatar{
		Name:      "migrated",
		VideoPath: "/data/migrated.mp4",
	}
	require.NoError(t, db.WithContext(ctx).Create(avatar).Error)
}

func TestMigrator_Up_Idempotent(t *testing.T) {
	db, migrator := setupMigrator(t)
	ctx := context.Background()

	require.NoError(t, migrator.Up(ctx))
	require.NoError(t, migrator.Up(ctx))

	// Records are written once per version.
	var count int64
	require.NoError(t, db.Model(&MigrationRecord{}).Count(&count).Error)
	assert.Equal(t, int64(len(AllMigrations())), count)
}

func TestMigrator_Status(t *testing.T) {
	_, migrator := setupMigrator(t)
	ctx := context.Background()

	statuses, err := migrator.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, len(AllMigrations()))
	for _, s := range statuses {
		assert.False(t, s.Applied)
		assert.Nil(t, s.AppliedAt)
	}

	require.NoError(t, migrator.Up(ctx))

	statuses, err = migrator.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.Applied)
		assert.NotNil(t, s.AppliedAt)
	}
}

func TestMigrator_Pending(t *testing.T) {
	_, migrator := setupMigrator(t)
	ctx := context.Background()

	pending, err := migrator.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, len(AllMigrations()))

	require.NoError(t, migrator.Up(ctx))

	pending, err = migrator.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMigrator_Down_RollsBackLast(t *testing.T) {
	db, migrator := setupMigrator(t)
	ctx := context.Background()

	require.NoError(t, migrator.Up(ctx))
	require.True(t, db.Migrator().HasTable("avatars"))

	require.NoError(t, migrator.Down(ctx))
	assert.False(t, db.Migrator().HasTable("avatars"))

	pending, err := migrator.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestMigrator_Down_NoMigrations(t *testing.T) {
	_, migrator := setupMigrator(t)

	// Nothing applied yet; Down is a no-op.
	assert.NoError(t, migrator.Down(context.Background()))
}
