package oidc

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// ProbeResult reports the health of one endpoint from a connectivity
// self-test.
type ProbeResult struct {
	Endpoint string `json:"endpoint"`
	URL      string `json:"url"`
	Healthy  bool   `json:"healthy"`
	// ExpectedStatus is the status a correctly implemented endpoint returns
	// for the intentionally invalid probe request.
	ExpectedStatus int    `json:"expected_status"`
	ActualStatus   int    `json:"actual_status,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

// Probe checks each configured endpoint with an intentionally invalid
// request and asserts the expected failure status: 400 for the token,
// authorization, and revocation endpoints (missing required parameters) and
// 401 for userinfo (missing bearer token). This distinguishes "reachable
// but misbehaving" from "unreachable" for the admin Test Connection feature.
func (p *Pool) Probe(ctx context.Context, endpoints EndpointConfiguration) []ProbeResult {
	var results []ProbeResult

	probeOne := func(name, endpointURL string, expected int, build func() (*http.Request, error)) {
		if endpointURL == "" {
			return
		}
		result := ProbeResult{Endpoint: name, URL: endpointURL, ExpectedStatus: expected}

		req, err := build()
		if err != nil {
			result.Detail = err.Error()
			results = append(results, result)
			return
		}
		resp, err := p.Do(req)
		if err != nil {
			result.Detail = "unreachable: " + err.Error()
			results = append(results, result)
			return
		}
		resp.Body.Close()

		result.ActualStatus = resp.StatusCode
		// Authorization endpoints commonly answer probes with a redirect or
		// an HTML login/error page instead of a clean 400; those still prove
		// the endpoint is alive and parsing requests. Anything else (404,
		// 405, 5xx) is an endpoint-health error.
		switch {
		case resp.StatusCode == expected:
			result.Healthy = true
		case name == "authorization" && (resp.StatusCode == http.StatusOK || (resp.StatusCode >= 300 && resp.StatusCode < 400)):
			result.Healthy = true
			result.Detail = "responded with a non-standard probe status"
		default:
			result.Detail = "unexpected status for invalid request"
		}
		results = append(results, result)
	}

	emptyForm := func(endpointURL string) func() (*http.Request, error) {
		return func() (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL,
				strings.NewReader(url.Values{}.Encode()))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			return req, nil
		}
	}

	probeOne("authorization", endpoints.AuthorizationURL, http.StatusBadRequest, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoints.AuthorizationURL, nil)
	})
	probeOne("token", endpoints.TokenURL, http.StatusBadRequest, emptyForm(endpoints.TokenURL))
	probeOne("userinfo", endpoints.UserInfoURL, http.StatusUnauthorized, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoints.UserInfoURL, nil)
	})
	probeOne("revocation", endpoints.RevocationURL, http.StatusBadRequest, emptyForm(endpoints.RevocationURL))

	return results
}
