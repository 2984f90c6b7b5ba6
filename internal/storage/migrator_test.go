package storage

import (
	"strings"
	"testing"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no embedded migrations found")
	}
	if migrations[0].Version != 1 || migrations[0].Name != "create_verdicts" {
		t.Fatalf("first migration = %+v", migrations[0])
	}
	if !strings.Contains(migrations[0].SQL, "CREATE TABLE IF NOT EXISTS verdicts") {
		t.Fatal("verdicts DDL missing from first migration")
	}
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want int
	}{
		{"single", "CREATE TABLE t (x Int32)", 1},
		{"two with trailing semicolon", "CREATE TABLE a (x Int32); CREATE TABLE b (y Int32);", 2},
		{"comments dropped", "-- comment only\n;CREATE TABLE c (z Int32)", 1},
		{"semicolon in string literal", "INSERT INTO t VALUES ('a;b'); SELECT 1", 2},
		{"empty", "  \n ; ; ", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitStatements(tt.sql)
			if len(got) != tt.want {
				t.Fatalf("got %d statements %q, want %d", len(got), got, tt.want)
			}
		})
	}
}

func TestVerdictsMigrationSplits(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	stmts := splitStatements(migrations[0].SQL)
	if len(stmts) != 2 {
		t.Fatalf("verdicts migration split into %d statements, want 2", len(stmts))
	}
	for _, s := range stmts {
		if strings.HasPrefix(s, "--") {
			t.Fatalf("comment leaked into statement: %q", s)
		}
	}
}
