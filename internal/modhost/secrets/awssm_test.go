package secrets

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsManager struct {
	secrets map[string]string
	creates int
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	s, ok := f.secrets[aws.ToString(in.SecretId)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(s)}, nil
}

func (f *fakeSecretsManager) PutSecretValue(_ context.Context, in *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	id := aws.ToString(in.SecretId)
	if _, ok := f.secrets[id]; !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	f.secrets[id] = aws.ToString(in.SecretString)
	return &secretsmanager.PutSecretValueOutput{}, nil
}

func (f *fakeSecretsManager) CreateSecret(_ context.Context, in *secretsmanager.CreateSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.creates++
	f.secrets[aws.ToString(in.Name)] = aws.ToString(in.SecretString)
	return &secretsmanager.CreateSecretOutput{}, nil
}

func (f *fakeSecretsManager) DeleteSecret(_ context.Context, in *secretsmanager.DeleteSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error) {
	id := aws.ToString(in.SecretId)
	if _, ok := f.secrets[id]; !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	delete(f.secrets, id)
	return &secretsmanager.DeleteSecretOutput{}, nil
}

func TestAWSBackend(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSecretsManager{secrets: map[string]string{}}
	b := NewBroker(NewAWSBackendWithClient(fake, "modhost/"))

	require.Nil(t, b.Put(ctx, "acme", "openai", map[string]any{"api_key": "sk-1"}))
	assert.Equal(t, 1, fake.creates)
	assert.JSONEq(t, `{"api_key":"sk-1"}`, fake.secrets["modhost/acme/providers/openai"])

	require.Nil(t, b.Put(ctx, "acme", "openai", map[string]any{"api_key": "sk-2"}))
	assert.Equal(t, 1, fake.creates)

	got, err := b.Get(ctx, "acme", "openai")
	require.Nil(t, err)
	assert.Equal(t, "sk-2", got["api_key"])

	require.Nil(t, b.Delete(ctx, "acme", "openai"))
	require.Nil(t, b.Delete(ctx, "acme", "openai"))

	got, err = b.Get(ctx, "acme", "openai")
	require.Nil(t, err)
	assert.Empty(t, got)
}
