// Package graph provides constants used throughout the Graph client.
package graph

import (
	"fmt"
	"time"
)

// Default HTTP Configuration Constants
const (
	DefaultTimeout       = 30 * time.Second
	DefaultRetryAttempts = 4
	DefaultRetryDelay    = 1 * time.Second
	DefaultMaxRetryDelay = 10 * time.Second
)

// Upload Constants
const (
	// SliceAlignment is the granularity Graph requires for upload slice sizes.
	SliceAlignment = 320 * 1024
	// DefaultSliceSize is ten aligned units (3.125 MiB).
	DefaultSliceSize = 10 * SliceAlignment
	// MaxSliceSize is the largest slice Graph accepts in a single request.
	MaxSliceSize = 60 * 1024 * 1024
)

// Rate Limiting Constants
const (
	DefaultRequestsPerSecond = 10.0
	DefaultBurstSize         = 15
	// DefaultRateLimitBackoff is used when a 429 carries no Retry-After header.
	DefaultRateLimitBackoff = 60 * time.Second
)

// Request header names.
const (
	headerClientRequestID = "client-request-id"
	headerContentRange    = "Content-Range"
	headerRetryAfter      = "Retry-After"
)

// Cloud identifies a Microsoft cloud deployment.
type Cloud string

const (
	CloudGlobal   Cloud = "global"
	CloudUSGov    Cloud = "usgov"
	CloudUSGovDoD Cloud = "usgov-dod"
	CloudChina    Cloud = "china"
)

// Endpoints holds the identity and Graph hosts for a cloud.
type Endpoints struct {
	AuthorityHost string
	GraphBaseURL  string
}

var cloudEndpoints = map[Cloud]Endpoints{
	CloudGlobal:   {AuthorityHost: "https://login.microsoftonline.com", GraphBaseURL: "https://graph.microsoft.com/v1.0"},
	CloudUSGov:    {AuthorityHost: "https://login.microsoftonline.us", GraphBaseURL: "https://graph.microsoft.us/v1.0"},
	CloudUSGovDoD: {AuthorityHost: "https://login.microsoftonline.us", GraphBaseURL: "https://dod-graph.microsoft.us/v1.0"},
	CloudChina:    {AuthorityHost: "https://login.chinacloudapi.cn", GraphBaseURL: "https://microsoftgraph.chinacloudapi.cn/v1.0"},
}

// EndpointsFor returns the endpoints of a national cloud.
func EndpointsFor(cloud Cloud) (Endpoints, error) {
	if cloud == "" {
		cloud = CloudGlobal
	}
	ep, ok := cloudEndpoints[cloud]
	if !ok {
		return Endpoints{}, fmt.Errorf("%w: unknown cloud %q", ErrInvalidRequest, cloud)
	}
	return ep, nil
}
