package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

const defaultIdentityEndpoint = "https://identitytoolkit.googleapis.com/v1"

// Firebase signs in through the identity toolkit REST API.
type Firebase struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	client   *fasthttp.Client
}

// FirebaseConfig configures the identity REST client.
type FirebaseConfig struct {
	APIKey string
	// Endpoint overrides the API root; empty means the public endpoint.
	Endpoint string
	Timeout  time.Duration
	Client   *fasthttp.Client
}

// NewFirebase builds a Provider backed by the identity toolkit.
func NewFirebase(cfg FirebaseConfig) *Firebase {
	f := &Firebase{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		client:   cfg.Client,
	}
	if f.endpoint == "" {
		f.endpoint = defaultIdentityEndpoint
	}
	if f.timeout <= 0 {
		f.timeout = 10 * time.Second
	}
	if f.client == nil {
		f.client = &fasthttp.Client{Name: "claims-agent-portal"}
	}
	return f
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID string `json:"localId"`
	Email   string `json:"email"`
	IDToken string `json:"idToken"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// credentialErrors are the identity toolkit messages that mean "wrong
// email or password" rather than an outage.
var credentialErrors = []string{
	"EMAIL_NOT_FOUND",
	"INVALID_PASSWORD",
	"INVALID_LOGIN_CREDENTIALS",
	"INVALID_EMAIL",
	"USER_DISABLED",
}

// SignIn posts the credentials to accounts:signInWithPassword.
func (f *Firebase) SignIn(ctx context.Context, email, password string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	body, err := json.Marshal(signInRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return Identity{}, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(f.endpoint + "/accounts:signInWithPassword?key=" + url.QueryEscape(f.apiKey))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if dl, ok := ctx.Deadline(); ok {
		err = f.client.DoDeadline(req, resp, dl)
	} else {
		err = f.client.DoTimeout(req, resp, f.timeout)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("auth: sign in request: %w", err)
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		var er errorResponse
		if json.Unmarshal(resp.Body(), &er) == nil {
			for _, code := range credentialErrors {
				// Messages look like "INVALID_PASSWORD" or "INVALID_LOGIN_CREDENTIALS : ...".
				if strings.HasPrefix(er.Error.Message, code) {
					return Identity{}, ErrInvalidCredentials
				}
			}
		}
		return Identity{}, fmt.Errorf("auth: sign in: http %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}

	var out signInResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return Identity{}, fmt.Errorf("auth: decode sign in response: %w", err)
	}
	if out.LocalID == "" {
		return Identity{}, fmt.Errorf("auth: sign in response without localId")
	}
	return Identity{UID: out.LocalID, Email: out.Email, IDToken: out.IDToken}, nil
}
