package postgres

import (
	"errors"
	"fmt"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"userapikey/backend/internal/storage"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{"Duplicated key", gorm.ErrDuplicatedKey, true},
		{"Wrapped duplicated key", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{"Postgres serialization failure", &pgconn.PgError{Code: "40001", Message: "could not serialize access"}, true},
		{"Postgres deadlock", &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}, true},
		{"Postgres unique violation", &pgconn.PgError{Code: "23505", Message: "duplicate key"}, true},
		{"Postgres syntax error", &pgconn.PgError{Code: "42601", Message: "syntax error"}, false},
		{"MySQL deadlock", &mysqldriver.MySQLError{Number: 1213, Message: "Deadlock found"}, true},
		{"MySQL lock wait timeout", &mysqldriver.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}, true},
		{"MySQL duplicate entry", &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"}, true},
		{"MySQL unknown column", &mysqldriver.MySQLError{Number: 1054, Message: "Unknown column"}, false},
		{"Other", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)
			assert.Equal(t, tt.conflict, errors.Is(got, storage.ErrConflict))
			if !tt.conflict {
				assert.Same(t, tt.err, got)
			}
		})
	}

	assert.NoError(t, classifyError(nil))
}
