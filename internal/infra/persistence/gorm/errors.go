package gormpersistence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/nuhaa333/chat-app/internal/repository"
)

// translate maps driver and gorm errors onto repository errors and wraps the rest.
func translate(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repository.ErrNotFound
	}
	if isDuplicateEntryError(err) {
		return repository.ErrDuplicateEntry
	}
	msg := fmt.Sprintf(format, args...)
	if repository.IsTransient(err) {
		return fmt.Errorf("gorm: %s: %w: %w", msg, repository.ErrTransient, err)
	}
	return fmt.Errorf("gorm: %s: %w", msg, err)
}

// isDuplicateEntryError recognises unique constraint violations. TranslateError
// covers the configured dialects; the MySQL number and message checks catch
// connections opened without it.
func isDuplicateEntryError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // SQLite
		strings.Contains(msg, "Duplicate entry") // MySQL
}

// escapeLike escapes LIKE wildcards using '!' as the escape character.
func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}
