// Package address parses and validates AMQP connection URLs.
//
// The accepted form is
//
//	scheme://[user[:password]@]host[:port][/vhost]
//
// where scheme is "amqp" (plain, default port 5672) or "amqps" (TLS,
// default port 5671). Parsing is pure: it never touches the network.
package address

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Scheme identifies the transport security of an address
type Scheme int

const (
	// Plain is an unencrypted amqp:// connection
	Plain Scheme = iota
	// Secure is a TLS amqps:// connection
	Secure
)

func (s Scheme) String() string {
	switch s {
	case Plain:
		return "amqp"
	case Secure:
		return "amqps"
	default:
		return "unknown"
	}
}

// DefaultPort returns the IANA port for the scheme
func (s Scheme) DefaultPort() int {
	if s == Secure {
		return 5671
	}
	return 5672
}

var schemes = map[string]Scheme{
	"amqp":  Plain,
	"amqps": Secure,
}

// DefaultVHost is used when the URL carries no path
const DefaultVHost = "/"

// Kind classifies address errors
type Kind int

const (
	// InvalidScheme: no "://" or a scheme other than amqp/amqps
	InvalidScheme Kind = iota
	// MissingHost: the authority has no host or cannot be parsed
	MissingHost
	// InvalidPort: non-numeric or outside 1-65535
	InvalidPort
	// InvalidVHost: bad escape in the vhost path, or connection
	// parameters amqp091 rejects
	InvalidVHost
)

func (k Kind) String() string {
	switch k {
	case InvalidScheme:
		return "invalid scheme"
	case MissingHost:
		return "missing host"
	case InvalidPort:
		return "invalid port"
	case InvalidVHost:
		return "invalid vhost"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidScheme = errors.New("address: invalid scheme")
	ErrMissingHost   = errors.New("address: missing host")
	ErrInvalidPort   = errors.New("address: invalid port")
	ErrInvalidVHost  = errors.New("address: invalid vhost")
)

// Error is returned by Parse
type Error struct {
	Kind Kind
	URL  string // sanitized
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("address error: %s in %q: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("address error: %s in %q", e.Kind, e.URL)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the same kind
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidScheme:
		return e.Kind == InvalidScheme
	case ErrMissingHost:
		return e.Kind == MissingHost
	case ErrInvalidPort:
		return e.Kind == InvalidPort
	case ErrInvalidVHost:
		return e.Kind == InvalidVHost
	}
	return false
}

// Address is an immutable, validated AMQP endpoint
type Address struct {
	scheme   Scheme
	host     string
	port     int
	vhost    string
	user     string
	password string
	hasUser  bool
}

// Parse validates raw and returns the resolved Address
func Parse(raw string) (Address, error) {
	fail := func(kind Kind, err error) (Address, error) {
		return Address{}, &Error{Kind: kind, URL: sanitize(raw), Err: err}
	}

	name, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return fail(InvalidScheme, nil)
	}
	scheme, ok := schemes[strings.ToLower(name)]
	if !ok {
		return fail(InvalidScheme, fmt.Errorf("unsupported scheme %q", name))
	}

	// check the path first so url.Parse errors can only come from the authority
	if _, path, found := strings.Cut(rest, "/"); found {
		path, _, _ = strings.Cut(path, "?")
		if _, err := url.PathUnescape(path); err != nil {
			return fail(InvalidVHost, err)
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		if strings.Contains(err.Error(), "invalid port") {
			return fail(InvalidPort, err)
		}
		return fail(MissingHost, err)
	}
	if u.Hostname() == "" {
		return fail(MissingHost, nil)
	}

	port := scheme.DefaultPort()
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return fail(InvalidPort, err)
		}
		if n < 1 || n > 65535 {
			return fail(InvalidPort, fmt.Errorf("port %d out of range", n))
		}
		port = n
	}

	// amqp091 owns the vhost rules ("/" default, "//" root, escapes)
	uri, err := amqp.ParseURI(raw)
	if err != nil {
		return fail(InvalidVHost, err)
	}

	addr := Address{
		scheme: scheme,
		host:   u.Hostname(),
		port:   port,
		vhost:  uri.Vhost,
	}
	if addr.vhost == "" {
		addr.vhost = DefaultVHost
	}
	if u.User != nil {
		addr.hasUser = true
		addr.user = u.User.Username()
		addr.password, _ = u.User.Password()
	}
	return addr, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level defaults.
func MustParse(raw string) Address {
	addr, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) Scheme() Scheme   { return a.scheme }
func (a Address) Host() string     { return a.host }
func (a Address) Port() int        { return a.port }
func (a Address) VHost() string    { return a.vhost }
func (a Address) User() string     { return a.user }
func (a Address) Password() string { return a.password }

// HasCredentials reports whether the URL carried a user segment
func (a Address) HasCredentials() bool { return a.hasUser }

// IsSecure reports whether the connection must use TLS
func (a Address) IsSecure() bool { return a.scheme == Secure }

// URI converts the address into the form amqp091 dials. Missing
// credentials fall back to the library defaults.
func (a Address) URI() amqp.URI {
	uri := amqp.URI{
		Scheme:   a.scheme.String(),
		Host:     a.host,
		Port:     a.port,
		Username: "guest",
		Password: "guest",
		Vhost:    a.vhost,
	}
	if a.hasUser {
		uri.Username = a.user
		uri.Password = a.password
	}
	return uri
}

// String renders the address for logs, always with an explicit port and
// the password redacted
func (a Address) String() string {
	u := url.URL{
		Scheme: a.scheme.String(),
		Host:   net.JoinHostPort(a.host, strconv.Itoa(a.port)),
		Path:   "/",
	}
	if a.vhost != DefaultVHost {
		u.Path = "/" + a.vhost
		u.RawPath = "/" + url.PathEscape(a.vhost)
	}
	if a.hasUser {
		if a.password != "" {
			u.User = url.UserPassword(a.user, a.password)
		} else {
			u.User = url.User(a.user)
		}
	}
	return u.Redacted()
}

func sanitize(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Redacted()
	}
	// unparsable: hide the whole userinfo
	name, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	authority, path, hasPath := strings.Cut(rest, "/")
	if i := strings.LastIndex(authority, "@"); i >= 0 {
		authority = "xxxxx@" + authority[i+1:]
	}
	if hasPath {
		return name + "://" + authority + "/" + path
	}
	return name + "://" + authority
}
