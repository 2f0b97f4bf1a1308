package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// DSNValue returns the explicit DSN when set, otherwise one built from the
// structured fields for the configured driver.
func (c DatabaseConfig) DSNValue() string {
	if v := strings.TrimSpace(c.DSN); v != "" {
		return v
	}
	switch c.Driver {
	case DriverMySQL:
		return c.mysqlDSN()
	case DriverPostgres:
		return c.postgresDSN()
	default:
		name := c.Name
		if name == "" {
			name = defaultSQLitePath
		}
		if name == ":memory:" {
			return name
		}
		return ResolveRuntimePath(name, "")
	}
}

func (c DatabaseConfig) mysqlDSN() string {
	m := mysql.NewConfig()
	m.User = c.User
	m.Passwd = c.Password
	m.Net = "tcp"
	m.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	m.DBName = c.Name
	m.ParseTime = true
	m.Params = map[string]string{"charset": "utf8mb4"}
	for k, v := range c.Params {
		m.Params[k] = v
	}
	return m.FormatDSN()
}

func (c DatabaseConfig) postgresDSN() string {
	parts := []string{
		"host=" + quoteDSNValue(c.Host),
		fmt.Sprintf("port=%d", c.Port),
		"user=" + quoteDSNValue(c.User),
		"dbname=" + quoteDSNValue(c.Name),
	}
	if c.Password != "" {
		parts = append(parts, "password="+quoteDSNValue(c.Password))
	}
	params := copyStringMap(c.Params)
	if params == nil {
		params = map[string]string{}
	}
	if _, ok := params["sslmode"]; !ok {
		params["sslmode"] = "disable"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+quoteDSNValue(params[k]))
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
