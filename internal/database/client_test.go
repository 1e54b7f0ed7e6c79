package database

import (
	"path/filepath"
	"testing"
)

func TestCreateConnectionSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "store.db")

	db, err := CreateConnection(DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("CreateConnection returned error: %v", err)
	}
	defer Close(db)

	var one int
	if err := db.Raw("SELECT 1").Scan(&one).Error; err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if one != 1 {
		t.Errorf("got %d, expected 1", one)
	}
}

func TestCreateConnectionUnknownDriver(t *testing.T) {
	if _, err := CreateConnection("oracle", "x"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
