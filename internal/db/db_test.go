package db

import (
	"testing"
)

type widget struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func TestNewDatabase_SQLiteMigrates(t *testing.T) {
	d, err := NewDatabase("sqlite", "file:dbtest?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if err := d.AutoMigrate(&widget{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := d.Gorm.Create(&widget{Name: "a"}).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	var n int64
	if err := d.Gorm.Model(&widget{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestNewDatabase_UnknownDriver(t *testing.T) {
	if _, err := NewDatabase("oracle", "x"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
