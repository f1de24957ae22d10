package repository

import (
	"database/sql/driver"

	"github.com/go-sql-driver/mysql"

	"github.com/opensource-finance/notas/internal/domain"
)

// mysqlDriver returns go-sql-driver/mysql and its DSN. Timestamps are parsed
// into time.Time and RowsAffected counts matched rows so an update that
// changes nothing is not reported as missing.
func mysqlDriver(cfg domain.RepositoryConfig) (driver.Driver, string) {
	c := mysql.NewConfig()
	c.Net = "tcp"
	c.Addr = cfg.MySQLAddr
	if c.Addr == "" {
		c.Addr = "localhost:3306"
	}
	c.User = cfg.MySQLUser
	c.Passwd = cfg.MySQLPassword
	c.DBName = cfg.MySQLDB
	if c.DBName == "" {
		c.DBName = "notas"
	}
	c.ParseTime = true
	c.ClientFoundRows = true
	c.InterpolateParams = true

	return &mysql.MySQLDriver{}, c.FormatDSN()
}
