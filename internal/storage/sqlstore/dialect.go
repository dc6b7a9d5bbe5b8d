package sqlstore

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/lib/pq"              // registers "postgres"
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3"

	"github.com/sheikh-saqib/pending-balance-reconciler/internal/config"
)

const DefaultTable = "pending_balance_changes"

var (
	tableNamePattern         = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)
	endpointPasswordPattern  = regexp.MustCompile(`(?i)(password=)('(?:[^'\\]|\\.)*'|[^\s&]+)`)
	endpointUserinfoPattern  = regexp.MustCompile(`://[^@\s/]+@`)
	keyValueDSNValueReplacer = strings.NewReplacer(`\`, `\\`, `'`, `\'`)
)

type dialect struct {
	driverName  string
	placeholder string
	// postgresDSN marks drivers that take credentials inside the DSN.
	postgresDSN bool
}

var dialects = map[string]dialect{
	"postgres": {driverName: "postgres", placeholder: "$1", postgresDSN: true},
	"pgx":      {driverName: "pgx", placeholder: "$1", postgresDSN: true},
	"sqlite3":  {driverName: "sqlite3", placeholder: "?"},
}

func lookupDialect(driverID string) (dialect, error) {
	d, ok := dialects[strings.ToLower(strings.TrimSpace(driverID))]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported driver %q", driverID)
	}
	return d, nil
}

func (d dialect) dsn(cfg config.Datasource) (string, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if !d.postgresDSN {
		return endpoint, nil
	}
	if strings.HasPrefix(endpoint, "postgres://") || strings.HasPrefix(endpoint, "postgresql://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", fmt.Errorf("parse endpoint: %w", err)
		}
		u.User = url.UserPassword(cfg.Username, cfg.Password)
		return u.String(), nil
	}
	return fmt.Sprintf("%s user='%s' password='%s'",
		endpoint,
		keyValueDSNValueReplacer.Replace(cfg.Username),
		keyValueDSNValueReplacer.Replace(cfg.Password),
	), nil
}

func (d dialect) queries(table string) (count, fetch, del string) {
	count = "SELECT COUNT(1) AS cnt FROM " + table
	fetch = "SELECT id, account_id, target_balance FROM " + table + " ORDER BY id"
	del = "DELETE FROM " + table + " WHERE id = " + d.placeholder
	return count, fetch, del
}

func resolveTable(table string) (string, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return DefaultTable, nil
	}
	if !tableNamePattern.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// redactEndpoint hides credentials so the endpoint can be logged.
func redactEndpoint(endpoint string) string {
	redacted := endpointUserinfoPattern.ReplaceAllString(endpoint, "://xxxxx@")
	return endpointPasswordPattern.ReplaceAllString(redacted, "${1}xxxxx")
}
