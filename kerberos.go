package adclient

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

// kerberosBind authenticates a fresh connection via GSSAPI. Credential
// sources are tried in order: explicit credential cache, default credential
// cache, explicit keytab, default keytab, password.
func kerberosBind(conn *ldap.Conn, cfg *Config) error {
	principal, realm, err := kerberosPrincipal(cfg)
	if err != nil {
		return err
	}

	gssapiClient, err := newGSSAPIClient(cfg, principal, realm)
	if err != nil {
		return fmt.Errorf("creating GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn, err := servicePrincipal(cfg)
	if err != nil {
		return err
	}

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind: %w", err)
	}
	return nil
}

// kerberosPrincipal resolves the client principal and realm. A realm
// embedded in the bind DN (user@REALM form) fills in a missing
// KerberosRealm.
func kerberosPrincipal(cfg *Config) (principal, realm string, err error) {
	principal = cfg.BindDN
	realm = cfg.KerberosRealm

	if at := strings.LastIndex(principal, "@"); at != -1 {
		if realm == "" {
			realm = principal[at+1:]
		}
		principal = principal[:at]
	}
	if realm == "" {
		return "", "", fmt.Errorf("kerberos realm is required (set KerberosRealm or use user@REALM in BindDN)")
	}
	return principal, realm, nil
}

func newGSSAPIClient(cfg *Config, principal, realm string) (ldap.GSSAPIClient, error) {
	krb5conf := cfg.KerberosConfig
	if krb5conf == "" {
		krb5conf = "/etc/krb5.conf"
	}
	if !fileReadable(krb5conf) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s", krb5conf)
	}

	if cfg.KerberosCCache != "" && fileReadable(cfg.KerberosCCache) {
		return gssapi.NewClientFromCCache(cfg.KerberosCCache, krb5conf, krb5client.DisablePAFXFAST(true))
	}
	if ccache := defaultCCachePath(); fileReadable(ccache) {
		return gssapi.NewClientFromCCache(ccache, krb5conf, krb5client.DisablePAFXFAST(true))
	}
	if cfg.KerberosKeytab != "" && fileReadable(cfg.KerberosKeytab) {
		return gssapi.NewClientWithKeytab(principal, realm, cfg.KerberosKeytab, krb5conf, krb5client.DisablePAFXFAST(true))
	}
	if principal != "" {
		if keytab := defaultKeytabPath(); fileReadable(keytab) {
			return gssapi.NewClientWithKeytab(principal, realm, keytab, krb5conf, krb5client.DisablePAFXFAST(true))
		}
	}
	if principal != "" && cfg.BindPassword != "" {
		return gssapi.NewClientWithPassword(principal, realm, cfg.BindPassword, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	return nil, fmt.Errorf("no suitable Kerberos credentials: provide KerberosCCache, KerberosKeytab, or a password")
}

// servicePrincipal derives the LDAP SPN from the endpoint hostname unless
// an explicit override is configured.
func servicePrincipal(cfg *Config) (string, error) {
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid directory URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("no hostname in directory URL %q", cfg.URL)
	}
	return "ldap/" + host, nil
}

// defaultCCachePath returns the conventional credential cache location,
// honouring KRB5CCNAME.
func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// defaultKeytabPath returns the conventional keytab location, honouring
// KRB5_KTNAME.
func defaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

func fileReadable(path string) bool {
	if path == "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
