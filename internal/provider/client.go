package provider

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client 向平台 API 发送带认证的 JSON 请求，并基于配置的 base URL 解析分页链接。
type Client struct {
	base   *url.URL
	http   *http.Client
	header http.Header
}

// NewClient 创建以 baseURL 为根的 Client。
// 相对路径保留 baseURL 的路径前缀（如 https://host/gitlab/api/v4/）。
func NewClient(baseURL string, header http.Header, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
		if base.RawPath != "" {
			base.RawPath += "/"
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // --insecure
	}

	return &Client{
		base:   base,
		http:   &http.Client{Timeout: timeout, Transport: transport},
		header: header.Clone(),
	}, nil
}

// URL 基于 base URL 解析 ref 并追加 query。
func (c *Client) URL(ref string, query url.Values) (string, error) {
	u, err := c.resolve(ref)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Get 请求 ref（相对 base URL 的路径，或上一次返回的 next 链接），把 JSON 解码到 out。
// 返回解析后的下一页链接，最后一页返回 ""。
func (c *Client) Get(ctx context.Context, ref string, out any) (string, error) {
	u, err := c.resolve(ref)
	if err != nil {
		return "", &TransportError{Method: http.MethodGet, URL: ref, Err: err}
	}
	target := u.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", &TransportError{Method: http.MethodGet, URL: target, Err: err}
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &TransportError{Method: http.MethodGet, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%s: %w", target, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &TransportError{Method: http.MethodGet, URL: target, StatusCode: resp.StatusCode}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return "", &TransportError{Method: http.MethodGet, URL: target, Err: fmt.Errorf("decode body: %w", err)}
		}
	}

	next := NextLink(resp.Header.Values("Link"))
	if next == "" {
		return "", nil
	}
	nu, err := c.resolve(next)
	if err != nil {
		return "", &TransportError{Method: http.MethodGet, URL: target, Err: fmt.Errorf("next link: %w", err)}
	}
	return nu.String(), nil
}

// resolve 把 ref 转成绝对地址。相对地址基于 base 解析；
// 绝对地址只保留 path 和 query，重新挂到 base 的 scheme 和 host 上，
// 代理后的实例返回错误 host 时仍能翻页，token 也不会发往其他主机。
func (c *Client) resolve(ref string) (*url.URL, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if !r.IsAbs() && r.Host == "" {
		return c.base.ResolveReference(r), nil
	}

	u := *c.base
	u.User = nil
	u.Path = r.Path
	u.RawPath = r.RawPath
	u.RawQuery = r.RawQuery
	u.Fragment = ""
	u.RawFragment = ""
	return &u, nil
}

// NextLink 从 RFC 5988 Link 头中提取 rel="next" 的地址。
func NextLink(values []string) string {
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			segments := strings.Split(part, ";")
			target := strings.TrimSpace(segments[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, param := range segments[1:] {
				key, val, ok := strings.Cut(strings.TrimSpace(param), "=")
				if !ok || !strings.EqualFold(strings.TrimSpace(key), "rel") {
					continue
				}
				for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(val), `"`)) {
					if strings.EqualFold(rel, "next") {
						return strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")
					}
				}
			}
		}
	}
	return ""
}
