package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AWSProvider resolves sudo_pass/remote_pass/secrets entries against AWS Secrets
// Manager. A key is either a bare secret id, returned as-is, or "secretID#field" for a
// secret stored as a JSON object with several fields (Secrets Manager's usual shape
// for anything beyond a single password).
type AWSProvider struct {
	client secretsmanagerClient
}

type secretsmanagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// NewAWSSecretsProvider builds an AWSProvider for region using static credentials.
func NewAWSSecretsProvider(accessKeyID, secretAccessKey, region string) (*AWSProvider, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	if err != nil {
		return nil, fmt.Errorf("error creating aws config: %w", err)
	}
	return &AWSProvider{client: secretsmanager.NewFromConfig(cfg)}, nil
}

// Get fetches the secret named by key's id portion. If key names a field
// ("secretID#field"), the secret value is parsed as a JSON object and that field is
// returned; otherwise the raw secret string is returned.
func (p *AWSProvider) Get(key string) (string, error) {
	secretID, field := key, ""
	if idx := strings.LastIndex(key, "#"); idx >= 0 {
		secretID, field = key[:idx], key[idx+1:]
	}

	result, err := p.client.GetSecretValue(context.Background(), &secretsmanager.GetSecretValueInput{SecretId: &secretID})
	if err != nil {
		return "", fmt.Errorf("error reading aws secret %q: %w", secretID, err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("aws secret %q has no string value", secretID)
	}
	if field == "" {
		return *result.SecretString, nil
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &fields); err != nil {
		return "", fmt.Errorf("aws secret %q is not a JSON object, can't read field %q: %w", secretID, field, err)
	}
	value, ok := fields[field]
	if !ok {
		return "", fmt.Errorf("field %q not found in aws secret %q", field, secretID)
	}
	return value, nil
}
