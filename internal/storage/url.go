package storage

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"ossgate/pkg/pathutil"
)

// ObjectInfo is the client facing descriptor of a stored object.
type ObjectInfo struct {
	Name         string    `json:"name"`
	Key          string    `json:"key"`
	URL          string    `json:"url"`
	Size         int64     `json:"size"`
	Extension    string    `json:"extension,omitempty"`
	LastModified time.Time `json:"lastModified,omitzero"`
}

// Locator derives display URLs for object keys.
type Locator struct {
	domain string
}

// NewLocator builds the Locator for cfg. OBS buckets are addressed in
// virtual-hosted style (scheme://bucket.host/key); every other provider uses
// path style (endpoint/bucket/key).
func NewLocator(cfg Config) (*Locator, error) {
	if cfg.PublicURL != "" {
		return &Locator{domain: strings.TrimSuffix(cfg.PublicURL, "/") + "/"}, nil
	}

	if cfg.Provider == ProviderOBS {
		u, err := url.Parse(cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint %q: %w", cfg.Endpoint, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("endpoint %q must include scheme and host", cfg.Endpoint)
		}
		return &Locator{domain: u.Scheme + "://" + cfg.Bucket + "." + u.Host + "/"}, nil
	}

	return &Locator{domain: strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket + "/"}, nil
}

// Domain returns the URL prefix every object key is appended to.
func (l *Locator) Domain() string {
	return l.domain
}

// URL returns the display URL for key.
func (l *Locator) URL(key string) string {
	return l.domain + strings.TrimPrefix(key, "/")
}

// Info builds the descriptor for a listed or looked-up object.
func (l *Locator) Info(obj Object) ObjectInfo {
	key := pathutil.TrimSlash(obj.Key)
	ext, _ := pathutil.Extension(key)
	return ObjectInfo{
		Name:         pathutil.Base(key),
		Key:          key,
		URL:          l.URL(key),
		Size:         obj.Size,
		Extension:    ext,
		LastModified: obj.LastModified,
	}
}
