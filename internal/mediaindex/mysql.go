package mediaindex

import (
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// withParseTime makes DATETIME columns scan into time.Time.
func withParseTime(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
