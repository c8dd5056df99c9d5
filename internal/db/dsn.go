package db

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildDSN assembles a postgres:// URL from libpq-style parts.
func BuildDSN(host, port, user, password, database, sslmode string) string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     host + ":" + port,
		Path:     "/" + strings.TrimPrefix(database, "/"),
		RawQuery: "sslmode=" + url.QueryEscape(sslmode),
	}
	if password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

// Redact masks the password of a DSN for logging.
func Redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "<unparseable dsn>"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// Database returns the database name of a postgres:// DSN.
func Database(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	return strings.TrimPrefix(u.Path, "/"), nil
}
