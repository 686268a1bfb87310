package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/Slach/clickhouse-logcontext/pkg/config"
	"github.com/Slach/clickhouse-logcontext/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Client is a lazily connected ClickHouse connection pool
type Client struct {
	config  config.Context
	version string

	mu sync.Mutex
	db *sql.DB
}

func NewClient(cfg config.Context, version string) *Client {
	return &Client{
		config:  cfg,
		version: version,
	}
}

// Name returns the config context name the client was built from
func (c *Client) Name() string {
	return c.config.Name
}

func (c *Client) GetVersion(ctx context.Context) (string, error) {
	db, err := c.conn()
	if err != nil {
		return "", err
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		log.Error().Err(err).Msg("failed to get ClickHouse version")
		return "", errors.Wrap(err, "failed to get ClickHouse version")
	}
	return version, nil
}

func (c *Client) conn() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db, nil
	}

	options, err := c.options()
	if err != nil {
		return nil, err
	}
	db := clickhouse.OpenDB(options)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "can't connect to %s:%d", c.config.Host, c.config.Port)
	}
	log.Info().Str("context", c.config.Name).Str("host", c.config.Host).Int("port", c.config.Port).Msg("connected to ClickHouse")
	c.db = db
	return db, nil
}

func (c *Client) options() (*clickhouse.Options, error) {
	tlsConfig, err := c.tlsConfig()
	if err != nil {
		return nil, err
	}

	options := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)},
		Auth: clickhouse.Auth{
			Database: c.config.Database,
			Username: c.config.Username,
			Password: c.config.Password,
		},
		TLS: tlsConfig,
	}
	options.ClientInfo.Products = append(options.ClientInfo.Products, struct{ Name, Version string }{
		types.AppName,
		c.version,
	})

	options.Protocol = clickhouse.Native
	if c.config.Protocol == "http" {
		options.Protocol = clickhouse.HTTP
	}
	return options, nil
}

// tlsConfig is nil unless secure is set or certificates are configured
func (c *Client) tlsConfig() (*tls.Config, error) {
	if !c.config.Secure && (c.config.TLSCert == "" || c.config.TLSKey == "") && c.config.TLSCa == "" && !c.config.TLSVerify {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		InsecureSkipVerify: !c.config.TLSVerify,
	}

	if c.config.TLSCert != "" && c.config.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(c.config.TLSCert, c.config.TLSKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if c.config.TLSCa != "" {
		caCert, err := os.ReadFile(c.config.TLSCa)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read CA certificate")
		}
		caCertPool := x509.NewCertPool()
		caCertPool.AppendCertsFromPEM(caCert)
		tlsConfig.RootCAs = caCertPool
	}
	return tlsConfig, nil
}

// QueryContext runs a query, connecting first when needed
func (c *Client) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	db, err := c.conn()
	if err != nil {
		return nil, err
	}
	log.Debug().Str("sql", query).Interface("args", args).Msg("query")
	return db.QueryContext(ctx, query, args...)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}
