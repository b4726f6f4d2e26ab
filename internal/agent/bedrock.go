package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
)

// API is the subset of the Bedrock Agent Runtime client used here.
type API interface {
	InvokeAgent(ctx context.Context, in *bedrockagentruntime.InvokeAgentInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.InvokeAgentOutput, error)
}

// eventReader is satisfied by *bedrockagentruntime.InvokeAgentEventStream.
type eventReader interface {
	Events() <-chan types.ResponseStream
	Close() error
	Err() error
}

// BedrockClient invokes agents through the AWS SDK, keeping one runtime
// client per region. Credentials come from the default AWS chain.
type BedrockClient struct {
	mu      sync.Mutex
	clients map[string]API
	newAPI  func(ctx context.Context, region string) (API, error)
}

func NewBedrockClient() *BedrockClient {
	return &BedrockClient{clients: map[string]API{}, newAPI: defaultAPI}
}

func defaultAPI(ctx context.Context, region string) (API, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return bedrockagentruntime.NewFromConfig(cfg), nil
}

func (c *BedrockClient) api(ctx context.Context, region string) (API, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.clients[region]; ok {
		return a, nil
	}
	a, err := c.newAPI(ctx, region)
	if err != nil {
		return nil, err
	}
	c.clients[region] = a
	return a, nil
}

// Invoke sends req and concatenates the streamed completion chunks.
func (c *BedrockClient) Invoke(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.ID) == "" {
		return Response{}, ErrNoAgentID
	}
	api, err := c.api(ctx, req.Region)
	if err != nil {
		return Response{}, err
	}
	out, err := api.InvokeAgent(ctx, &bedrockagentruntime.InvokeAgentInput{
		AgentId:      aws.String(req.ID),
		AgentAliasId: aws.String(req.Alias),
		SessionId:    aws.String(req.SessionID),
		InputText:    aws.String(req.Text),
		EnableTrace:  aws.Bool(req.Trace),
	})
	if err != nil {
		return Response{}, Categorize(err)
	}
	resp := Response{SessionID: req.SessionID}
	if out.SessionId != nil && *out.SessionId != "" {
		resp.SessionID = *out.SessionId
	}
	stream := out.GetStream()
	if stream == nil {
		return resp, nil
	}
	text, err := collect(stream)
	resp.Text = text
	return resp, err
}

// collect drains the event stream, keeping only completion chunks.
func collect(r eventReader) (string, error) {
	defer func() { _ = r.Close() }()
	var b strings.Builder
	for ev := range r.Events() {
		if chunk, ok := ev.(*types.ResponseStreamMemberChunk); ok {
			b.Write(chunk.Value.Bytes)
		}
	}
	if err := r.Err(); err != nil {
		return b.String(), Categorize(err)
	}
	return b.String(), nil
}
