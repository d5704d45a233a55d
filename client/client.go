package client

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/LubyRuffy/vllmpoc"
	"github.com/LubyRuffy/vllmpoc/logger"
	"github.com/sashabaranov/go-openai"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	DefaultHealthTimeout = 10 * time.Second
	DefaultTimeout       = 60 * time.Second
	DefaultStreamTimeout = 5 * time.Minute

	DefaultTemperature float32 = 0.7
	DefaultMaxTokens           = 512
)

type Client struct {
	baseURL       string
	apiKey        string
	model         string
	httpClient    *http.Client
	healthTimeout time.Duration
	timeout       time.Duration
	streamTimeout time.Duration
	logger        *logger.Logger
	output        io.Writer

	api *openai.Client
}

type Option func(*Client)

// WithBaseURL 服务端地址（不含 /v1），默认 http://localhost:8000。
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

func WithAPIKey(apiKey string) Option {
	return func(c *Client) { c.apiKey = apiKey }
}

func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout 非流式对话超时。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithStreamTimeout(d time.Duration) Option {
	return func(c *Client) { c.streamTimeout = d }
}

func WithHealthTimeout(d time.Duration) Option {
	return func(c *Client) { c.healthTimeout = d }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithOutput 流式对话时增量内容的输出位置，默认 os.Stdout。
func WithOutput(w io.Writer) Option {
	return func(c *Client) { c.output = w }
}

func New(opts ...Option) *Client {
	c := &Client{
		baseURL:       vllmpoc.DefaultBaseURL,
		apiKey:        vllmpoc.DefaultAPIKey,
		model:         vllmpoc.DefaultClientModel,
		healthTimeout: DefaultHealthTimeout,
		timeout:       DefaultTimeout,
		streamTimeout: DefaultStreamTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.baseURL = strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(c.baseURL), "/"), "/v1")
	if c.baseURL == "" {
		c.baseURL = vllmpoc.DefaultBaseURL
	}
	if strings.TrimSpace(c.model) == "" {
		c.model = vllmpoc.DefaultClientModel
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.logger == nil {
		c.logger = logger.L()
	}
	c.logger = c.logger.Named("client")
	if c.output == nil {
		c.output = os.Stdout
	}

	cfg := openai.DefaultConfig(c.apiKey)
	cfg.BaseURL = c.baseURL + "/v1"
	cfg.HTTPClient = c.httpClient
	c.api = openai.NewClientWithConfig(cfg)
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Model() string { return c.model }

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}
