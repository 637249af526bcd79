package mariadb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestSplitStatements(t *testing.T) {
	script := `-- header comment
CREATE TABLE a (
    id INT
);

CREATE INDEX a_id ON a (id);
SELECT 1`

	got := splitStatements(script)
	if len(got) != 3 {
		t.Fatalf("got %d statements; want 3: %q", len(got), got)
	}
	if !strings.HasPrefix(got[0], "CREATE TABLE a (") || strings.HasSuffix(got[0], ";") {
		t.Errorf("first statement = %q", got[0])
	}
	if got[1] != "CREATE INDEX a_id ON a (id)" {
		t.Errorf("second statement = %q", got[1])
	}
	if got[2] != "SELECT 1" {
		t.Errorf("trailing statement = %q", got[2])
	}
}

func TestEmbeddedMigrationSplits(t *testing.T) {
	body, err := migrationsFS.ReadFile("migrations/001_face_identities.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	stmts := splitStatements(string(body))
	if len(stmts) != 2 {
		t.Fatalf("got %d statements; want 2", len(stmts))
	}
	if !strings.Contains(stmts[0], "CREATE TABLE IF NOT EXISTS face_identities") {
		t.Errorf("first statement should create the audit table: %q", stmts[0])
	}
}

func TestIsDuplicateIndex(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"duplicate key name", &mysql.MySQLError{Number: 1061, Message: "Duplicate key name"}, true},
		{"wrapped", fmt.Errorf("exec: %w", &mysql.MySQLError{Number: 1061}), true},
		{"other mysql error", &mysql.MySQLError{Number: 1146}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isDuplicateIndex(tc.err); got != tc.want {
				t.Errorf("isDuplicateIndex = %v; want %v", got, tc.want)
			}
		})
	}
}

func TestNewPool_InvalidDSN(t *testing.T) {
	for _, dsn := range []string{"", "not a dsn"} {
		if _, err := NewPool(context.Background(), dsn); err == nil {
			t.Errorf("NewPool(%q) should fail", dsn)
		}
	}
}
