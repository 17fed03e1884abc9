// Package link is the HTTP client for the Dofbot robot API
// (/angles, /home, /set_angles, /image).
package link

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/gwillem/dofbot/pkg/robot"
)

// DefaultPort is the port the robot server listens on.
const DefaultPort = 5000

var (
	ErrNoAddress    = errors.New("no robot address configured")
	ErrNotConnected = errors.New("robot not connected")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	msg := e.Endpoint + ": " + http.StatusText(e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Config holds client configuration.
type Config struct {
	Address string        // host or host:port of the robot
	Port    int           // used when Address has no port (default 5000)
	Timeout time.Duration // bounds reads, home and image requests, 0 for none; set_angles is never bounded
}

type anglesResponse struct {
	Status string `json:"status,omitempty"`
	Angles []int  `json:"angles"`
}

// Client talks to the robot server and tracks the connection state:
// the address, whether the last connect succeeded, and the last reported angles.
type Client struct {
	http    *http.Client
	port    int
	timeout time.Duration

	mu        sync.RWMutex
	address   string
	connected bool
	angles    robot.Angles
}

// New creates a client. No request is made until Connect.
func New(cfg Config) *Client {
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	return &Client{
		http:    &http.Client{},
		port:    cfg.Port,
		timeout: cfg.Timeout,
		address: strings.TrimSpace(cfg.Address),
		angles:  robot.HomeAngles(),
	}
}

// Address returns the configured robot address.
func (c *Client) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

// SetAddress changes the robot address and marks the client disconnected.
func (c *Client) SetAddress(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr = strings.TrimSpace(addr)
	if addr != c.address {
		c.address = addr
		c.connected = false
	}
}

// Connected reports whether the last connect succeeded and no call has
// since marked the link down.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// CurrentAngles returns the angles last reported by the robot.
func (c *Client) CurrentAngles() robot.Angles {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.angles.Clone()
}

// BaseURL returns the robot server URL, e.g. http://192.168.1.20:5000.
func (c *Client) BaseURL() (string, error) {
	c.mu.RLock()
	addr := c.address
	c.mu.RUnlock()
	if addr == "" {
		return "", ErrNoAddress
	}

	addr = strings.TrimPrefix(strings.TrimPrefix(addr, "http://"), "https://")
	addr = strings.TrimSuffix(addr, "/")
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(c.port))
	}
	return "http://" + addr, nil
}

// ImageURL returns the camera snapshot URL.
func (c *Client) ImageURL() (string, error) {
	base, err := c.BaseURL()
	if err != nil {
		return "", err
	}
	return base + "/image", nil
}

// Connect reads the current angles and marks the link connected on success.
// Any failure marks it disconnected.
func (c *Client) Connect(ctx context.Context) (robot.Angles, error) {
	angles, err := c.getAngles(ctx, "/angles", nil, true)
	c.mu.Lock()
	c.connected = err == nil
	if err == nil {
		c.angles = angles.Clone()
	}
	c.mu.Unlock()

	if err != nil {
		zlog.Warn().Err(err).Str("address", c.Address()).Msg("link: connect failed")
		return nil, errors.Wrap(err, "connect")
	}
	zlog.Info().Str("address", c.Address()).Str("angles", angles.String()).Msg("link: connected")
	return angles, nil
}

// RefreshAngles re-reads the current angles.
func (c *Client) RefreshAngles(ctx context.Context) (robot.Angles, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}
	angles, err := c.getAngles(ctx, "/angles", nil, true)
	if err != nil {
		return nil, errors.Wrap(err, "refresh angles")
	}
	c.storeAngles(angles)
	return angles, nil
}

// Home moves the arm to the home pose.
func (c *Client) Home(ctx context.Context) (robot.Angles, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}
	angles, err := c.getAngles(ctx, "/home", nil, true)
	if err != nil {
		return nil, errors.Wrap(err, "move home")
	}
	c.storeAngles(angles)
	return angles, nil
}

// SetAngles moves all joints to angles over d and waits for the robot to
// report completion. It returns the angles reported after the move.
func (c *Client) SetAngles(ctx context.Context, angles robot.Angles, d time.Duration) (robot.Angles, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}
	if err := angles.Validate(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("angles", angles.String())
	q.Set("t", strconv.FormatInt(d.Milliseconds(), 10))

	zlog.Debug().Str("angles", angles.String()).Dur("duration", d).Msg("link: set angles")
	// the move takes as long as the robot needs; only ctx ends it
	reported, err := c.getAngles(ctx, "/set_angles", q, false)
	if err != nil {
		return nil, errors.Wrap(err, "set angles")
	}
	c.storeAngles(reported)
	return reported, nil
}

// Image fetches a JPEG snapshot from the robot camera.
func (c *Client) Image(ctx context.Context) ([]byte, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}
	body, err := c.get(ctx, "/image", nil, true)
	if err != nil {
		return nil, errors.Wrap(err, "fetch image")
	}
	return body, nil
}

func (c *Client) storeAngles(angles robot.Angles) {
	c.mu.Lock()
	c.angles = angles.Clone()
	c.mu.Unlock()
}

func (c *Client) getAngles(ctx context.Context, endpoint string, q url.Values, bounded bool) (robot.Angles, error) {
	body, err := c.get(ctx, endpoint, q, bounded)
	if err != nil {
		return nil, err
	}

	var resp anglesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrapf(err, "%s: decode response", endpoint)
	}
	angles := robot.Angles(resp.Angles)
	if err := angles.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%s: response", endpoint)
	}
	return angles, nil
}

// get performs a GET request. bounded requests are limited by the
// configured timeout.
func (c *Client) get(ctx context.Context, endpoint string, q url.Values, bounded bool) ([]byte, error) {
	base, err := c.BaseURL()
	if err != nil {
		return nil, err
	}
	if bounded && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	u := base + endpoint
	if len(q) > 0 {
		// angles stay readable on the wire: a,b,c rather than a%2Cb%2Cc
		u += "?" + strings.ReplaceAll(q.Encode(), "%2C", ",")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "GET %s", endpoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read body", endpoint)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Endpoint: endpoint,
			Code:     resp.StatusCode,
			Body:     strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}
