package sqlitebackup

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"
)

// ExportClient represents a remote location that finished backups are
// uploaded to. Files are addressed by name relative to the client's path.
type ExportClient interface {
	// Type returns the type of client, e.g. "s3".
	Type() string

	// Init prepares the client for use. It is called once before any other
	// method and may be a no-op.
	Init(ctx context.Context) error

	// Exists returns true if a file with the given name is already stored.
	Exists(ctx context.Context, name string) (bool, error)

	// WriteFile writes the contents of r to name, replacing any existing file.
	// Callers that must not overwrite check Exists first.
	WriteFile(ctx context.Context, name string, r io.Reader) error

	// DeleteFile removes name. Returns nil if the file does not exist.
	DeleteFile(ctx context.Context, name string) error
}

// ExportClientFactory creates an ExportClient from URL components.
// The userinfo parameter contains credentials from the URL, if any.
type ExportClientFactory func(scheme, host, urlPath string, query url.Values, userinfo *url.Userinfo) (ExportClient, error)

var (
	exportClientFactories   = make(map[string]ExportClientFactory)
	exportClientFactoriesMu sync.RWMutex
)

// RegisterExportClientFactory registers a factory for a URL scheme. Backend
// packages call this from init().
func RegisterExportClientFactory(scheme string, factory ExportClientFactory) {
	exportClientFactoriesMu.Lock()
	defer exportClientFactoriesMu.Unlock()
	exportClientFactories[scheme] = factory
}

// NewExportClientFromURL creates a new ExportClient from a URL string.
// The URL scheme determines which backend is used.
func NewExportClientFromURL(rawURL string) (ExportClient, error) {
	scheme, host, urlPath, query, userinfo, err := ParseExportURL(rawURL)
	if err != nil {
		return nil, err
	}

	factoryScheme := scheme
	if factoryScheme == "webdavs" {
		factoryScheme = "webdav"
	}

	exportClientFactoriesMu.RLock()
	factory, ok := exportClientFactories[factoryScheme]
	exportClientFactoriesMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unsupported export URL scheme: %q", scheme)
	}
	return factory(scheme, host, urlPath, query, userinfo)
}

// ParseExportURL splits an export URL into its components. File URLs return
// an absolute path; every other scheme returns a path relative to the host.
func ParseExportURL(s string) (scheme, host, urlPath string, query url.Values, userinfo *url.Userinfo, err error) {
	// Access point ARNs contain colons that url.Parse rejects.
	if strings.HasPrefix(strings.ToLower(s), "s3://arn:") {
		scheme, host, urlPath, query, err := parseS3AccessPointURL(s)
		return scheme, host, urlPath, query, nil, err
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", "", "", nil, nil, err
	}

	switch u.Scheme {
	case "file":
		scheme, u.Scheme = u.Scheme, ""
		u.RawQuery = ""
		return scheme, "", path.Clean(u.String()), nil, nil, nil

	case "":
		return "", "", "", nil, nil, fmt.Errorf("export url scheme required: %s", s)

	default:
		return u.Scheme, u.Host, CleanExportURLPath(u.Path), u.Query(), u.User, nil
	}
}

func parseS3AccessPointURL(s string) (scheme, host, urlPath string, query url.Values, err error) {
	arnWithPath := s[len("s3://"):]

	var queryStr string
	if idx := strings.IndexByte(arnWithPath, '?'); idx != -1 {
		queryStr = arnWithPath[idx+1:]
		arnWithPath = arnWithPath[:idx]
	}

	bucket, key, err := splitS3AccessPointARN(arnWithPath)
	if err != nil {
		return "", "", "", nil, err
	}

	if queryStr != "" {
		if query, err = url.ParseQuery(queryStr); err != nil {
			return "", "", "", nil, fmt.Errorf("parse query string: %w", err)
		}
	}
	return "s3", bucket, CleanExportURLPath(key), query, nil
}

// splitS3AccessPointARN splits an access point ARN into the ARN itself,
// which is used as the bucket, and the key prefix after it.
func splitS3AccessPointARN(s string) (bucket, key string, err error) {
	const marker = ":accesspoint/"
	idx := strings.Index(strings.ToLower(s), marker)
	if idx == -1 || idx+len(marker) >= len(s) {
		return "", "", fmt.Errorf("invalid s3 access point arn: %s", s)
	}

	nameStart := idx + len(marker)
	remainder := s[nameStart:]
	slashIdx := strings.IndexByte(remainder, '/')
	if slashIdx == -1 {
		return s, "", nil
	}
	return s[:nameStart+slashIdx], remainder[slashIdx+1:], nil
}

// CleanExportURLPath cleans a URL path and strips the leading slash.
func CleanExportURLPath(p string) string {
	if p == "" {
		return ""
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// RegionFromS3ARN extracts the region from an S3 ARN.
func RegionFromS3ARN(arn string) string {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) >= 4 {
		return parts[3]
	}
	return ""
}

// BoolQueryValue returns a boolean value from URL query parameters.
// It checks keys in order and reports whether any of them was set.
func BoolQueryValue(query url.Values, keys ...string) (value bool, ok bool) {
	for _, key := range keys {
		if raw := query.Get(key); raw != "" {
			switch strings.ToLower(raw) {
			case "true", "1", "t", "yes":
				return true, true
			default:
				return false, true
			}
		}
	}
	return false, false
}

// IsTigrisEndpoint returns true if the endpoint is the Tigris object storage service.
func IsTigrisEndpoint(endpoint string) bool {
	host := extractEndpointHost(endpoint)
	return host == "fly.storage.tigris.dev" || host == "t3.storage.dev"
}

// IsDigitalOceanEndpoint returns true if the endpoint is Digital Ocean Spaces.
func IsDigitalOceanEndpoint(endpoint string) bool {
	return strings.HasSuffix(extractEndpointHost(endpoint), ".digitaloceanspaces.com")
}

// IsBackblazeEndpoint returns true if the endpoint is Backblaze B2.
func IsBackblazeEndpoint(endpoint string) bool {
	return strings.HasSuffix(extractEndpointHost(endpoint), ".backblazeb2.com")
}

// IsFilebaseEndpoint returns true if the endpoint is Filebase.
func IsFilebaseEndpoint(endpoint string) bool {
	return extractEndpointHost(endpoint) == "s3.filebase.com"
}

// IsCloudflareR2Endpoint returns true if the endpoint is Cloudflare R2.
func IsCloudflareR2Endpoint(endpoint string) bool {
	return strings.HasSuffix(extractEndpointHost(endpoint), ".r2.cloudflarestorage.com")
}

// IsMinIOEndpoint returns true if the endpoint looks like a self-hosted
// S3-compatible server: a host with an explicit port that is not a known
// cloud provider.
func IsMinIOEndpoint(endpoint string) bool {
	host := extractEndpointHost(endpoint)
	if !strings.Contains(host, ":") {
		return false
	}
	for _, s := range []string{
		".amazonaws.com",
		".digitaloceanspaces.com",
		".backblazeb2.com",
		".filebase.com",
		".r2.cloudflarestorage.com",
		"tigris.dev",
		"t3.storage.dev",
	} {
		if strings.Contains(host, s) {
			return false
		}
	}
	return true
}

func extractEndpointHost(endpoint string) string {
	endpoint = strings.TrimSpace(strings.ToLower(endpoint))
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return endpoint
}

var isURLRegex = regexp.MustCompile(`^\w+:\/\/`)

// IsURL returns true if s has a URL scheme.
func IsURL(s string) bool {
	return isURLRegex.MatchString(s)
}
