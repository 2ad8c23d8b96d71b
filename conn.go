package adclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// DirectoryConn is a live session with the directory server. A connection
// is exclusively owned by whichever component currently holds it (the pool
// or a borrower); it is never used by two operations concurrently.
type DirectoryConn interface {
	// SearchPage fetches one page of results, resuming from cookie (nil
	// for the first page). The returned page's Cookie is empty when the
	// server has no further pages.
	SearchPage(ctx context.Context, spec SearchSpec, cookie []byte) (*ResultPage, error)

	// Validate performs a cheap liveness probe. Expected failure is
	// reported as false, not as an error.
	Validate() bool

	// Close tears the session down.
	Close() error
}

// Connector establishes directory sessions. The default implementation
// dials with go-ldap; tests substitute a fake.
type Connector interface {
	Connect(ctx context.Context) (DirectoryConn, error)
}

// ldapConnector dials and binds go-ldap sessions from a Config.
type ldapConnector struct {
	cfg *Config
}

// NewConnector returns a Connector dialing the configured endpoint with
// go-ldap, upgrading with StartTLS when requested and binding with simple
// or Kerberos credentials.
func NewConnector(cfg *Config) (Connector, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid directory URL %q: %w", cfg.URL, err)
	}
	if u.Scheme != "ldap" && u.Scheme != "ldaps" {
		return nil, fmt.Errorf("unsupported directory URL scheme %q", u.Scheme)
	}
	return &ldapConnector{cfg: cfg}, nil
}

func (c *ldapConnector) Connect(ctx context.Context) (DirectoryConn, error) {
	select {
	case <-ctx.Done():
		return nil, cancelled(ctx)
	default:
	}

	tlsConfig := c.cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	tlsConfig = tlsConfig.Clone()
	if u, err := url.Parse(c.cfg.URL); err == nil && !tlsConfig.InsecureSkipVerify {
		tlsConfig.ServerName = u.Hostname()
	}

	conn, err := ldap.DialURL(c.cfg.URL, ldap.DialWithTLSConfig(tlsConfig))
	if err != nil {
		return nil, opError("dial", err)
	}

	if c.cfg.StartTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, opError("starttls", err)
		}
	}

	if c.cfg.CallTimeout > 0 {
		conn.SetTimeout(c.cfg.CallTimeout)
	}

	if err := c.bind(conn); err != nil {
		conn.Close()
		return nil, opError("bind", err)
	}

	return &ldapConn{conn: conn}, nil
}

// bind authenticates the fresh session. Kerberos takes precedence when a
// realm is configured; otherwise a simple bind (anonymous when no BindDN is
// set).
func (c *ldapConnector) bind(conn *ldap.Conn) error {
	if c.cfg.hasKerberos() {
		return kerberosBind(conn, c.cfg)
	}
	if c.cfg.BindDN == "" {
		return conn.UnauthenticatedBind("")
	}
	return conn.Bind(c.cfg.BindDN, c.cfg.BindPassword)
}

// ldapConn adapts *ldap.Conn to DirectoryConn.
type ldapConn struct {
	conn *ldap.Conn
}

func (lc *ldapConn) SearchPage(ctx context.Context, spec SearchSpec, cookie []byte) (*ResultPage, error) {
	select {
	case <-ctx.Done():
		return nil, cancelled(ctx)
	default:
	}

	pageSize := spec.PageSize
	if pageSize == 0 {
		pageSize = 500
	}
	paging := ldap.NewControlPaging(pageSize)
	if len(cookie) > 0 {
		paging.SetCookie(cookie)
	}

	if deadline, ok := ctx.Deadline(); ok {
		lc.conn.SetTimeout(time.Until(deadline))
	}

	req := ldap.NewSearchRequest(
		spec.BaseDN,
		spec.Scope.ldapScope(),
		ldap.NeverDerefAliases,
		0, 0, false,
		spec.Filter,
		spec.Attributes,
		[]ldap.Control{paging},
	)

	res, err := lc.conn.Search(req)
	if err != nil {
		return nil, err
	}

	page := &ResultPage{
		Records: make([]DirectoryRecord, 0, len(res.Entries)),
	}
	for _, entry := range res.Entries {
		page.Records = append(page.Records, recordFromEntry(entry))
	}
	if ctrl, ok := ldap.FindControl(res.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging); ok {
		page.Cookie = ctrl.Cookie
	}
	return page, nil
}

// Validate probes the session with a one-entry root-DSE search. Any
// failure means the connection is not worth pooling.
func (lc *ldapConn) Validate() bool {
	req := ldap.NewSearchRequest(
		"", // root DSE
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 5, false,
		"(objectClass=*)",
		[]string{"defaultNamingContext"},
		nil,
	)
	_, err := lc.conn.Search(req)
	return err == nil
}

func (lc *ldapConn) Close() error {
	return lc.conn.Close()
}
