package voicesession

import (
	"context"
	"errors"
	"net/url"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	"github.com/voxbridge/voicesession/shared"
)

var errEmptyToken = errors.New("credential response contained no token")

// Credential is a short-lived token scoped to one session, plus an optional
// routing target for the negotiation endpoint.
type Credential struct {
	Token   string `json:"token"`
	BaseURL string `json:"base_url,omitempty"`
}

// MintRequest describes the session the credential should be scoped to.
type MintRequest struct {
	Voice          Voice        `json:"voice"`
	Instructions   string       `json:"instructions,omitempty"`
	Tools          []ToolSchema `json:"tools,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
}

// TokenProvider supplies ephemeral session credentials. External collaborator
// boundary: implementations typically call an authenticated HTTP endpoint.
type TokenProvider interface {
	Mint(ctx context.Context, req MintRequest) (Credential, error)
}

// StaticTokenProvider returns a fixed credential. Useful for development and
// for talking to an endpoint directly with a long-lived key.
type StaticTokenProvider struct {
	Credential Credential
}

func (p *StaticTokenProvider) Mint(ctx context.Context, req MintRequest) (Credential, error) {
	return p.Credential, nil
}

// HTTPTokenProvider mints credentials from a remote endpoint via POST.
// Authorization carries the calling user's session token.
type HTTPTokenProvider struct {
	Endpoint      string
	Authorization string
	Client        *fasthttp.Client
}

func NewHTTPTokenProvider(endpoint, authorization string) (*HTTPTokenProvider, error) {
	if _, err := url.Parse(endpoint); err != nil {
		return nil, err
	}
	return &HTTPTokenProvider{Endpoint: endpoint, Authorization: authorization}, nil
}

func (p *HTTPTokenProvider) Mint(ctx context.Context, mr MintRequest) (Credential, error) {
	body, err := sonic.Marshal(mr)
	if err != nil {
		return Credential{}, &shared.CredentialError{Err: err}
	}

	status, respBody, err := doPost(ctx, p.Client, p.Endpoint, p.Authorization, "application/json", body)
	if err != nil {
		return Credential{}, &shared.CredentialError{Err: err}
	}
	if status < 200 || status >= 300 {
		return Credential{}, &shared.CredentialError{
			Status: status,
			Body:   string(respBody),
		}
	}
	var cred Credential
	if err := sonic.Unmarshal(respBody, &cred); err != nil {
		return Credential{}, &shared.CredentialError{Err: err}
	}
	if cred.Token == "" {
		return Credential{}, &shared.CredentialError{Err: errEmptyToken}
	}
	return cred, nil
}

type postResult struct {
	status int
	body   []byte
	err    error
}

// doPost issues one cancellable POST. The goroutine owns the pooled request
// and response for the whole call and releases them only after Do returns, so
// a ctx cancellation never puts objects back in fasthttp's pools while Do is
// still writing to them. The body is copied out before release.
func doPost(ctx context.Context, client *fasthttp.Client, uri, authorization, contentType string, body []byte) (int, []byte, error) {
	resC := make(chan postResult, 1)
	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(uri)
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType(contentType)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		req.SetBody(body)

		var err error
		if client != nil {
			err = client.Do(req, resp)
		} else {
			err = fasthttp.Do(req, resp)
		}
		if err != nil {
			resC <- postResult{err: err}
			return
		}
		resC <- postResult{
			status: resp.StatusCode(),
			body:   append([]byte(nil), resp.Body()...),
		}
	}()
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case r := <-resC:
		return r.status, r.body, r.err
	}
}
