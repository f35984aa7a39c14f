package s3

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// providerHost is an S3-compatible service whose export URLs put the bucket
// in the host name, e.g. s3://backups.nyc3.digitaloceanspaces.com/db.
type providerHost struct {
	pattern  *regexp.Regexp // first submatch is the bucket
	scheme   string
	endpoint string // may contain %s for the second submatch
	region   string // fixed region; empty means the second submatch
}

var providerHosts = []providerHost{
	{
		pattern:  regexp.MustCompile(`^(.+)\.localhost$`),
		scheme:   "http",
		endpoint: "localhost",
		region:   DefaultRegion,
	},
	{
		pattern:  regexp.MustCompile(`^(.+)\.([^.]+)\.digitaloceanspaces\.com$`),
		scheme:   "https",
		endpoint: "%s.digitaloceanspaces.com",
	},
	{
		pattern:  regexp.MustCompile(`^(.+)\.s3\.([^.]+)\.backblazeb2\.com$`),
		scheme:   "https",
		endpoint: "s3.%s.backblazeb2.com",
	},
	{
		pattern:  regexp.MustCompile(`^(.+)\.([0-9a-f]+)\.r2\.cloudflarestorage\.com$`),
		scheme:   "https",
		endpoint: "%s.r2.cloudflarestorage.com",
		region:   "auto",
	},
}

// parseHost splits the host of an s3:// export URL. A provider host yields
// the bucket, region and endpoint and forces path-style requests. Any other
// host is an AWS bucket name.
func parseHost(host string) (bucket, region, endpoint string, forcePathStyle bool) {
	name, port, err := net.SplitHostPort(host)
	if err != nil {
		name = host
	}

	for _, p := range providerHosts {
		m := p.pattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}

		endpoint, region = p.endpoint, p.region
		if strings.Contains(endpoint, "%s") {
			endpoint = fmt.Sprintf(endpoint, m[2])
		}
		if region == "" {
			region = m[2]
		}
		if port != "" {
			endpoint = net.JoinHostPort(endpoint, port)
		}
		return m[1], region, p.scheme + "://" + endpoint, true
	}

	return name, "", "", false
}
