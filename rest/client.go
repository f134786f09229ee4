package rest

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

const (
	apiBaseURL             = "https://discord.com/api/v10"
	headerAuthorizationKey = "Authorization"
	headerCorrelationKey   = "X-Correlation-ID"
)

// FastHTTPClient is the default Client implementation, grounded on the
// teacher's fasthttp request helper but reduced to the two GET endpoints
// this core's Manager actually calls.
type FastHTTPClient struct {
	token  string
	client *fasthttp.Client
	logger zerolog.Logger
}

// NewClient builds a FastHTTPClient authenticating as a bot with token.
func NewClient(token string, logger zerolog.Logger) *FastHTTPClient {
	return &FastHTTPClient{
		token:  token,
		client: &fasthttp.Client{},
		logger: logger,
	}
}

func (c *FastHTTPClient) GetGatewayBot(ctx context.Context) (*GatewayBotResponse, error) {
	var dst GatewayBotResponse
	if err := c.get(ctx, apiBaseURL+"/gateway/bot", "Bot "+c.token, &dst); err != nil {
		return nil, err
	}

	return &dst, nil
}

func (c *FastHTTPClient) GetGateway(ctx context.Context) (*GatewayResponse, error) {
	var dst GatewayResponse
	if err := c.get(ctx, apiBaseURL+"/gateway", "", &dst); err != nil {
		return nil, err
	}

	return &dst, nil
}

// get sends a GET request and unmarshals a 200 response body into dst.
func (c *FastHTTPClient) get(_ context.Context, uri, authorization string, dst any) error {
	correlation := xid.New().String()

	request := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(request)

	request.Header.SetMethod(fasthttp.MethodGet)
	request.Header.Set(headerCorrelationKey, correlation)

	if authorization != "" {
		request.Header.Set(headerAuthorizationKey, authorization)
	}

	request.SetRequestURI(uri)

	response := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(response)

	c.logger.Debug().Str(headerCorrelationKey, correlation).Str("uri", uri).Msg("rest request")

	if err := c.client.Do(request, response); err != nil {
		return fmt.Errorf("rest: %s: %w", uri, err)
	}

	if response.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("rest: %s: unexpected status %d", uri, response.StatusCode())
	}

	if err := json.Unmarshal(response.Body(), dst); err != nil {
		return fmt.Errorf("rest: %s: decode: %w", uri, err)
	}

	return nil
}
