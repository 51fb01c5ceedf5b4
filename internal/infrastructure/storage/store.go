package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vitos/coin_tracker/internal/domain"
)

var ErrUnsupportedURI = errors.New("unsupported storage uri")

// Open connects to the backend named by uri and makes sure its schema exists.
// Supported forms are sqlite://<path> and postgres:// or postgresql:// DSNs.
// timeout bounds both dialing and the initial ping.
func Open(ctx context.Context, uri string, timeout time.Duration) (domain.Store, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := ValidateURI(uri); err != nil {
		return nil, err
	}

	if path, ok := strings.CutPrefix(uri, "sqlite://"); ok {
		store, err := NewSQLiteStore(ctx, path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := NewPostgresStore(ctx, uri, timeout)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// ValidateURI reports whether Open can dial uri without touching the network.
// SQLite paths are taken verbatim; postgres DSNs must parse as URLs.
func ValidateURI(uri string) error {
	if path, ok := strings.CutPrefix(uri, "sqlite://"); ok {
		if path == "" {
			return fmt.Errorf("%w: empty sqlite path", ErrUnsupportedURI)
		}
		return nil
	}
	if !strings.HasPrefix(uri, "postgres://") && !strings.HasPrefix(uri, "postgresql://") {
		return fmt.Errorf("%w: %q, only sqlite:// and (postgres|postgresql):// are supported", ErrUnsupportedURI, redact(uri))
	}
	if _, err := url.Parse(uri); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrUnsupportedURI, redact(uri), unwrapURLError(err))
	}
	return nil
}

// unwrapURLError drops the *url.Error wrapper, which quotes the raw uri
// including any password.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

// redact drops credentials so the uri can be logged.
func redact(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***@" + rest[at+1:]
	}
	return scheme + "://" + rest
}
