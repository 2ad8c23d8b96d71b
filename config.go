package adclient

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/hashicorp/go-hclog"
)

// Pool and concurrency ceilings. These bounds protect both the client and
// the directory server from resource exhaustion; typical AD deployments
// default to 1000+ concurrent connections, so staying well below that keeps
// this layer a polite tenant.
const (
	// MaxPoolCapacity is the maximum allowed connections in a pool.
	MaxPoolCapacity = 100

	// MaxConcurrencyLimit is the maximum allowed in-flight directory
	// operations.
	MaxConcurrencyLimit = 256
)

// Config holds the plain numeric/duration knobs consumed by the client
// layer. It performs no file or environment I/O; the embedding application
// owns configuration loading.
type Config struct {
	// Connection settings
	URL      string // ldap:// or ldaps:// endpoint
	BaseDN   string // default base DN for searches
	StartTLS bool   // upgrade plain connections with StartTLS

	// Authentication settings
	BindDN       string // bind DN or UPN for simple bind
	BindPassword string // password for simple bind

	// Kerberos (GSSAPI) settings; when Realm is set, Kerberos takes
	// precedence over simple bind.
	KerberosRealm  string
	KerberosKeytab string // path to keytab file
	KerberosCCache string // path to credential cache
	KerberosConfig string // path to krb5.conf
	KerberosSPN    string // explicit service principal override

	// TLS settings
	TLSConfig *tls.Config

	// Pool settings
	PoolCapacity   int           `default:"10"`  // maximum pooled + borrowed handles
	AcquireTimeout time.Duration `default:"10s"` // wait bound when the pool is at capacity
	MaxIdleTime    time.Duration `default:"5m"`  // idle age beyond which a handle is discarded

	// Concurrency settings
	MaxConcurrent      int `default:"16"` // in-flight directory operations
	MaxParallelBatches int `default:"4"`  // batch-local fan-out ceiling
	BatchSize          int `default:"100"`

	// Search settings
	PageSize    uint32        `default:"500"` // paged-results page size
	CallTimeout time.Duration `default:"30s"` // per-call deadline applied by the facade

	// Cache settings
	CacheTTL  time.Duration `default:"30s"`
	CacheSize int           `default:"128"` // maximum cached query results

	// Logger receives debug events (handle discards, batch failures,
	// cache activity). Defaults to a no-op logger.
	Logger hclog.Logger `default:"-"`
}

// DefaultConfig returns a Config with defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	if err := defaults.Set(cfg); err != nil {
		// The struct tags are static; a parse failure here is a
		// programming error.
		panic(fmt.Sprintf("adclient: invalid default tags: %v", err))
	}
	return cfg
}

// hydrate applies tag defaults to zero-valued fields and fills the logger.
func (c *Config) hydrate() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("applying config defaults: %w", err)
	}
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
	return nil
}

// validate checks the configured ceilings.
func (c *Config) validate() error {
	if c.PoolCapacity <= 0 {
		return errors.New("PoolCapacity must be positive")
	}
	if c.PoolCapacity > MaxPoolCapacity {
		return fmt.Errorf("PoolCapacity too high (max %d)", MaxPoolCapacity)
	}
	if c.MaxConcurrent <= 0 {
		return errors.New("MaxConcurrent must be positive")
	}
	if c.MaxConcurrent > MaxConcurrencyLimit {
		return fmt.Errorf("MaxConcurrent too high (max %d)", MaxConcurrencyLimit)
	}
	if c.BatchSize <= 0 {
		return errors.New("BatchSize must be positive")
	}
	if c.MaxParallelBatches <= 0 {
		return errors.New("MaxParallelBatches must be positive")
	}
	if c.PageSize == 0 {
		return errors.New("PageSize must be positive")
	}
	if c.AcquireTimeout <= 0 {
		return errors.New("AcquireTimeout must be positive")
	}
	if c.CacheSize <= 0 {
		return errors.New("CacheSize must be positive")
	}
	return nil
}

// hasKerberos reports whether Kerberos authentication is configured.
func (c *Config) hasKerberos() bool {
	return c.KerberosRealm != ""
}
