package storage

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureImageSource implements ImageSource over Azure blob storage, for
// deployments that keep certificate templates in a blob container.
type AzureImageSource struct {
	client *azblob.Client
}

// NewAzureImageSource creates an Azure-backed image source.
func NewAzureImageSource(accountName, accountKey string) (*AzureImageSource, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, err
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, err
	}

	return &AzureImageSource{client: client}, nil
}

// FetchImage downloads and decodes a blob. The location is a URL whose path
// names the container and whose "blob" query parameter names the blob.
func (s *AzureImageSource) FetchImage(ctx context.Context, location string) (image.Image, error) {
	parsedURL, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid blob URL: %w", err)
	}

	containerName := strings.Trim(parsedURL.Path, "/")
	if containerName == "" {
		return nil, fmt.Errorf("blob URL %q has no container path", location)
	}
	blobName := parsedURL.Query().Get("blob")
	if blobName == "" {
		return nil, fmt.Errorf("blob URL %q has no blob query parameter", location)
	}

	downloadResponse, err := s.client.DownloadStream(ctx, containerName, blobName, nil)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}

	retryReader := downloadResponse.Body
	defer retryReader.Close()

	img, _, err := image.Decode(retryReader)
	return img, err
}
