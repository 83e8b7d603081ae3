package storage

import (
	"fmt"
	"strconv"
	"strings"
)

type dialect struct {
	name       string
	driverName string
	schemaFile string
	// forUpdate is appended to row-locking selects.
	forUpdate string
	// numbered placeholders ($1, $2, …) instead of ?.
	numbered bool
	// returning means inserts report their id with RETURNING instead of LastInsertId.
	returning bool
	least     string
	greatest  string
}

var dialects = map[string]*dialect{
	"sqlite": {
		name:       "sqlite",
		driverName: "sqlite",
		schemaFile: "schema/sqlite.sql",
		least:      "MIN",
		greatest:   "MAX",
	},
	"mysql": {
		name:       "mysql",
		driverName: "mysql",
		schemaFile: "schema/mysql.sql",
		forUpdate:  " FOR UPDATE",
		least:      "LEAST",
		greatest:   "GREATEST",
	},
	"postgres": {
		name:       "postgres",
		driverName: "pgx",
		schemaFile: "schema/postgres.sql",
		forUpdate:  " FOR UPDATE",
		numbered:   true,
		returning:  true,
		least:      "LEAST",
		greatest:   "GREATEST",
	},
}

func dialectFor(driver string) (*dialect, error) {
	d, ok := dialects[strings.ToLower(driver)]
	if !ok {
		return nil, fmt.Errorf("unsupported storage driver %q (want sqlite, mysql or postgres)", driver)
	}
	return d, nil
}

// bind rewrites ? placeholders for dialects that number them. Queries in this
// package never contain a literal question mark.
func (d *dialect) bind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// clampPrice wraps expr so the result stays inside the row's band.
func (d *dialect) clampPrice(expr string) string {
	return fmt.Sprintf("%s(%s(%s, min_price_cents), max_price_cents)", d.least, d.greatest, expr)
}
