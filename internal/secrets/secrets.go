// Package secrets resolves credentials stored in AWS Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
)

type Resolver struct {
	client secretsmanageriface.SecretsManagerAPI
}

type Option func(*Resolver)

// WithClient overrides the Secrets Manager client, primarily for tests.
func WithClient(c secretsmanageriface.SecretsManagerAPI) Option {
	return func(r *Resolver) {
		r.client = c
	}
}

func NewResolver(opts ...Option) (*Resolver, error) {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		sess, err := session.NewSessionWithOptions(session.Options{
			SharedConfigState: session.SharedConfigEnable,
		})
		if err != nil {
			return nil, fmt.Errorf("creating aws session: %w", err)
		}
		r.client = secretsmanager.New(sess)
	}
	return r, nil
}

// ConnectionURI fetches the named secret and returns the connection URI it
// holds. Secrets are stored either as the bare URI string or as a JSON
// object with a "uri" field.
func (r *Resolver) ConnectionURI(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("fetching secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", name)
	}
	raw := *out.SecretString

	var doc struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err == nil && doc.URI != "" {
		return doc.URI, nil
	}
	return raw, nil
}
