package fitbit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
)

// 对接 Fitbit Web API：按日期拉取数据，以及用 refresh token 换新的凭证。
// 这里不做重试，限流和服务端错误原样交给调用方判断。

// Response 接口原始响应
type Response struct {
	StatusCode int
	Body       []byte
}

// Token 刷新接口返回的新凭证
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
	UserID       string `json:"user_id"`
}

// ProviderError 服务商返回的错误，Body 原样保留
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("fitbit http %d: %s", e.StatusCode, e.Body)
}

// Options 客户端配置
type Options struct {
	APIBase        string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	RequestTimeout time.Duration
	UserAgent      string
}

type Client struct {
	hc           *client.Client
	apiBase      string
	tokenURL     string
	clientID     string
	clientSecret string
	timeout      time.Duration
	userAgent    string
}

func NewClient(opts Options) (*Client, error) {
	apiBase := strings.TrimRight(strings.TrimSpace(opts.APIBase), "/")
	if apiBase == "" {
		apiBase = "https://api.fitbit.com"
	}
	tokenURL := strings.TrimSpace(opts.TokenURL)
	if tokenURL == "" {
		tokenURL = apiBase + "/oauth2/token"
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	hc, err := client.NewClient(client.WithDialTimeout(5 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	return &Client{
		hc:           hc,
		apiBase:      apiBase,
		tokenURL:     tokenURL,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		timeout:      timeout,
		userAgent:    strings.TrimSpace(opts.UserAgent),
	}, nil
}

// Get 以当前登录用户身份请求 /1/user/-<path>
func (c *Client) Get(ctx context.Context, path, accessToken string) (Response, error) {
	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	req.SetMethod(consts.MethodGet)
	req.SetRequestURI(c.apiBase + "/1/user/-" + path)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	c.setCommonHeaders(req)

	if err := c.hc.DoTimeout(ctx, req, resp, c.timeout); err != nil {
		return Response{}, fmt.Errorf("GET %s: %w", path, err)
	}

	return Response{
		StatusCode: resp.StatusCode(),
		Body:       append([]byte(nil), resp.Body()...),
	}, nil
}

// RefreshToken 用 refresh token 换取新的 access/refresh token。
// accessToken 不参与请求，只用于和调用方的凭证快照对应。
func (c *Client) RefreshToken(ctx context.Context, accessToken, refreshToken string, expirySeconds int) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if expirySeconds > 0 {
		form.Set("expires_in", strconv.Itoa(expirySeconds))
	}

	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	req.SetMethod(consts.MethodPost)
	req.SetRequestURI(c.tokenURL)
	req.Header.Set("Authorization", "Basic "+basicAuth(c.clientID, c.clientSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	c.setCommonHeaders(req)
	req.SetBodyString(form.Encode())

	if err := c.hc.DoTimeout(ctx, req, resp, c.timeout); err != nil {
		return Token{}, fmt.Errorf("POST token refresh: %w", err)
	}

	body := append([]byte(nil), resp.Body()...)
	if resp.StatusCode() != consts.StatusOK {
		return Token{}, &ProviderError{StatusCode: resp.StatusCode(), Body: string(body)}
	}

	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return Token{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return Token{}, &ProviderError{StatusCode: resp.StatusCode(), Body: string(body)}
	}
	return tok, nil
}

func (c *Client) setCommonHeaders(req *protocol.Request) {
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

func basicAuth(id, secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(id + ":" + secret))
}
