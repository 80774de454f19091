// Package geolocation looks IP addresses up against the ip.sb GeoIP API and
// exposes the lookup as the query-ip tool.
package geolocation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/logging"
)

const (
	// DefaultBaseURL is the public ip.sb lookup endpoint.
	DefaultBaseURL = "https://api.ip.sb/geoip"
	// DefaultUserAgent is sent with every upstream request.
	DefaultUserAgent = "MCP-IP-Geolocation-Server/1.0"
	// DefaultTimeout bounds one upstream request.
	DefaultTimeout = 10 * time.Second
)

// Client queries the GeoIP API. It implements domain.GeoLookup.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for upstream requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithUserAgent overrides the User-Agent header. An empty value keeps the
// default.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for baseURL. An empty baseURL selects
// DefaultBaseURL and a non-positive timeout selects DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ipInfo is the subset of the upstream response that gets reported.
type ipInfo struct {
	IP              string      `json:"ip"`
	CountryCode     string      `json:"country_code"`
	Country         string      `json:"country"`
	Region          string      `json:"region"`
	City            string      `json:"city"`
	Latitude        *float64    `json:"latitude"`
	Longitude       *float64    `json:"longitude"`
	Timezone        string      `json:"timezone"`
	ASN             flexibleASN `json:"asn"`
	ASNOrganization string      `json:"asn_organization"`
	Organization    string      `json:"organization"`
}

// flexibleASN accepts the ASN as either a JSON number or a string.
type flexibleASN string

func (a *flexibleASN) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = flexibleASN(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*a = flexibleASN(n.String())
	return nil
}

// statusError is a non-2xx upstream answer.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("Request failed with status code %d", e.code)
}

// transportError is a failure to complete the upstream exchange.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }

func (e *transportError) Unwrap() error { return e.err }

// Lookup returns a human readable description of ip, or of the caller's own
// address when ip is empty. Failures are described in the returned text.
func (c *Client) Lookup(ctx context.Context, ip string) string {
	info, err := c.fetch(ctx, ip)
	if err == nil {
		return format(info)
	}

	c.logger.Warn("geoip lookup failed", logging.Fields{"ip": ip, "error": err})

	var se *statusError
	var te *transportError
	switch {
	case errors.As(err, &se) && se.code == http.StatusNotFound:
		return fmt.Sprintf("无法找到 IP 地址 \"%s\" 的信息", ip)
	case errors.As(err, &se), errors.As(err, &te):
		return "查询失败: " + err.Error()
	default:
		return "发生错误: " + err.Error()
	}
}

func (c *Client) endpoint(ip string) string {
	if ip == "" {
		return c.baseURL
	}
	return c.baseURL + "/" + url.PathEscape(ip)
}

func (c *Client) fetch(ctx context.Context, ip string) (*ipInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(ip), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("geoip upstream answered", logging.Fields{
		"ip":       ip,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode}
	}

	var info ipInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return &info, nil
}

func format(info *ipInfo) string {
	org := info.ASNOrganization
	if org == "" {
		org = info.Organization
	}
	lines := []string{
		"IP 地址: " + info.IP,
		fmt.Sprintf("国家/地区: %s (%s)", info.Country, info.CountryCode),
		"省/州: " + info.Region,
		"城市: " + info.City,
		fmt.Sprintf("经纬度: %s, %s", formatCoordinate(info.Latitude), formatCoordinate(info.Longitude)),
		"时区: " + info.Timezone,
		"ASN: " + string(info.ASN),
		"组织: " + org,
	}
	return strings.Join(lines, "\n")
}

func formatCoordinate(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
