package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration. Values come from the
// environment so main stays lean.
type Server struct {
	Addr         string
	DatabaseURL  string
	KafkaBrokers []string
	AuditTopic   string
	TxTimeout    time.Duration
}

// FromEnv builds a Server config from environment variables.
//
// DATABASE_URL wins when set (managed platforms inject it); otherwise the
// discrete DB_* variables are assembled into a connection string. An empty
// result means no database is configured and the caller falls back to the
// in-memory store.
func FromEnv() Server {
	addr := os.Getenv("CONTACT_SVC_ADDR")
	if addr == "" {
		addr = ":8000"
	}

	txTimeout := 5 * time.Second
	if raw := os.Getenv("CONTACT_TX_TIMEOUT"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			txTimeout = parsed
		}
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	topic := os.Getenv("AUDIT_TOPIC")
	if topic == "" {
		topic = "contact.reconciled"
	}

	return Server{
		Addr:         addr,
		DatabaseURL:  databaseURL(),
		KafkaBrokers: brokers,
		AuditTopic:   topic,
		TxTimeout:    txTimeout,
	}
}

func databaseURL() string {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		return dbURL
	}
	host := os.Getenv("DB_HOST")
	name := os.Getenv("DB_NAME")
	if host == "" || name == "" {
		return ""
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}
	sslmode := os.Getenv("DB_SSLMODE")
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD")),
		Host:     fmt.Sprintf("%s:%s", host, port),
		Path:     name,
		RawQuery: "sslmode=" + sslmode,
	}
	return u.String()
}
