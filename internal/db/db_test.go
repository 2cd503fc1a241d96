package db

import (
	"testing"
	"time"

	"groupchat/internal/models"
)

func TestConnect_UnsupportedDriver(t *testing.T) {
	if _, err := Connect("oracle", "whatever"); err == nil {
		t.Fatal("Connect() with unsupported driver should fail")
	}
}

func TestMigrate_SQLite(t *testing.T) {
	gdb, err := Connect("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := Migrate(gdb); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	for _, table := range []any{&models.User{}, &models.Group{}, &models.Channel{}, &models.Membership{}, &models.Message{}, &models.Ban{}, &models.RefreshToken{}} {
		if !gdb.Migrator().HasTable(table) {
			t.Errorf("table for %T not created", table)
		}
	}
}

func TestBanScopeUniqueIndex(t *testing.T) {
	gdb, err := Connect("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := Migrate(gdb); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	now := time.Now().UTC()
	first := models.Ban{UserID: 1, GroupID: 1, IssuedBy: 2, IssuedAt: now}
	if err := gdb.Create(&first).Error; err != nil {
		t.Fatalf("create first ban: %v", err)
	}
	dup := models.Ban{UserID: 1, GroupID: 1, IssuedBy: 2, IssuedAt: now}
	if err := gdb.Create(&dup).Error; err == nil {
		t.Fatal("second group-wide ban for the same user and group should violate the unique index")
	}
	ch := uint(5)
	channelBan := models.Ban{UserID: 1, GroupID: 1, ChannelID: &ch, ScopeKey: ch, IssuedBy: 2, IssuedAt: now}
	if err := gdb.Create(&channelBan).Error; err != nil {
		t.Fatalf("channel ban alongside group ban should be allowed: %v", err)
	}
}

func TestMembershipUniqueIndex(t *testing.T) {
	gdb, err := Connect("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := Migrate(gdb); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := gdb.Create(&models.Membership{UserID: 1, GroupID: 1, Role: models.RoleUser}).Error; err != nil {
		t.Fatalf("create membership: %v", err)
	}
	if err := gdb.Create(&models.Membership{UserID: 1, GroupID: 1, Role: models.RoleAdmin}).Error; err == nil {
		t.Fatal("duplicate (user, group) membership should violate the unique index")
	}
}
