package intake

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/zifrone/contact/internal/logger"
)

// LambdaAdapter serves API Gateway proxy events. Netlify functions deliver
// the same event shape.
type LambdaAdapter struct {
	handler *Handler
}

// NewLambdaAdapter wraps h for a serverless runtime
func NewLambdaAdapter(h *Handler) *LambdaAdapter {
	return &LambdaAdapter{handler: h}
}

// Handle converts the event, runs the handler and converts the reply
func (a *LambdaAdapter) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if id := event.RequestContext.RequestID; id != "" {
		ctx = logger.SetCorrelationID(ctx, id)
	}

	headers := make(http.Header, len(event.Headers))
	for k, v := range event.Headers {
		headers.Set(k, v)
	}
	for k, values := range event.MultiValueHeaders {
		headers.Del(k)
		for _, v := range values {
			headers.Add(k, v)
		}
	}

	req := Request{
		Method:     event.HTTPMethod,
		Path:       event.Path,
		Headers:    headers,
		RemoteAddr: event.RequestContext.Identity.SourceIP,
	}

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			body = nil
		} else {
			body = decoded
		}
	}
	if int64(len(body)) > a.handler.opts.MaxBodyBytes {
		req.BodyTooLarge = true
	}
	req.Body = body

	resp := a.handler.Handle(ctx, req)

	out := events.APIGatewayProxyResponse{
		StatusCode: resp.StatusCode,
		Headers:    make(map[string]string, len(resp.Headers)),
		Body:       string(resp.Body),
	}
	for k := range resp.Headers {
		out.Headers[k] = resp.Headers.Get(k)
	}
	return out, nil
}
