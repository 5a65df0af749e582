package stage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// httpDo executes the "http" stage variant: resolve
// method/url/headers/body, issue one request, and surface
// {status_code, body, headers}. A 5xx/4xx response is not itself treated as
// a stage failure (outputs carry the status code for the workflow author to
// branch on via `if`); only a transport-level error fails the stage.
func httpDo(ctx context.Context, d *Dispatcher, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	urlV, err := d.resolveAny(ctx, spec.HTTPURL, data)
	if err != nil {
		return nil, err
	}
	url, _ := urlV.(string)

	method := spec.HTTPMethod
	if method == "" {
		method = http.MethodGet
	}

	bodyV, err := d.resolveAny(ctx, spec.HTTPBody, data)
	if err != nil {
		return nil, err
	}
	bodyStr, _ := bodyV.(string)

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, strings.NewReader(bodyStr))
	if err != nil {
		return nil, err
	}
	for k, v := range spec.HTTPHeaders {
		rv, err := d.resolveAny(ctx, v, data)
		if err != nil {
			return nil, err
		}
		req.Header.Set(k, fmt.Sprintf("%v", rv))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]interface{}, len(resp.Header))
	for k, vs := range resp.Header {
		if len(vs) > 0 {
			headers[k] = vs[0]
		}
	}

	return map[string]interface{}{
		"status_code": int64(resp.StatusCode),
		"body":        string(respBody),
		"headers":     headers,
	}, nil
}
