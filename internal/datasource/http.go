package datasource

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
)

// HTTPSource fetches facts from a JSON endpoint. It sends GET
// {url}?query=&scope=&since=&limit= and expects {"facts": [...]}.
type HTTPSource struct {
	name   string
	kind   contracts.DataSourceKind
	url    string
	client *resty.Client
}

// NewHTTPSource creates an HTTP-backed data source. token, when set, is sent
// as a bearer token.
func NewHTTPSource(name string, kind contracts.DataSourceKind, url, token string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().SetTimeout(timeout).SetHeader("Accept", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &HTTPSource{name: name, kind: kind, url: url, client: c}
}

func (s *HTTPSource) Name() string                   { return s.name }
func (s *HTTPSource) Kind() contracts.DataSourceKind { return s.kind }

type factsResponse struct {
	Facts []contracts.Fact `json:"facts"`
}

func (s *HTTPSource) Fetch(ctx context.Context, req contracts.DataRequest) ([]contracts.Fact, error) {
	params := map[string]string{
		"query": req.Query,
		"scope": req.Scope,
	}
	if !req.Since.IsZero() {
		params["since"] = req.Since.UTC().Format(time.RFC3339)
	}
	if req.Limit > 0 {
		params["limit"] = strconv.Itoa(req.Limit)
	}

	var out factsResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&out).
		Get(s.url)
	if err != nil {
		return nil, apperr.Unavailable("datasource."+s.name, err)
	}
	if resp.IsError() {
		return nil, apperr.Unavailable("datasource."+s.name, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}

	now := time.Now().UTC()
	for i := range out.Facts {
		out.Facts[i].Source = s.name
		if out.Facts[i].Kind == "" {
			out.Facts[i].Kind = s.kind
		}
		if out.Facts[i].ObservedAt.IsZero() {
			out.Facts[i].ObservedAt = now
		}
	}
	if req.Limit > 0 && len(out.Facts) > req.Limit {
		out.Facts = out.Facts[:req.Limit]
	}
	return out.Facts, nil
}
