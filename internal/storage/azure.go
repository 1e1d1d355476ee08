package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"analyzer/internal/domain"
)

// AzureStore keeps screenshots as block blobs in one container.
type AzureStore struct {
	client    *azblob.Client
	container string
}

// NewAzureStore authenticates with a shared key against accountName.
func NewAzureStore(accountName, accountKey, container string) (*AzureStore, error) {
	if accountName == "" || accountKey == "" || container == "" {
		return nil, errors.New("storage: azure account, key and container are required")
	}
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("storage: azure credential: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: azure client: %w", err)
	}
	return &AzureStore{client: client, container: container}, nil
}

// Put uploads data as the blob named key.
func (s *AzureStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	opts := &azblob.UploadBufferOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}
	if _, err := s.client.UploadBuffer(ctx, s.container, cleanKey, data, opts); err != nil {
		return "", fmt.Errorf("storage: azure upload: %w", err)
	}
	return cleanKey, nil
}

// Get downloads the blob named key.
func (s *AzureStore) Get(ctx context.Context, key string) ([]byte, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.DownloadStream(ctx, s.container, cleanKey, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("storage: azure download: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: azure read: %w", err)
	}
	return data, nil
}

var _ domain.ImageStore = (*AzureStore)(nil)
