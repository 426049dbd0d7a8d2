package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// Blob is one object found in the landing container.
type Blob struct {
	Name         string
	Size         int64
	LastModified time.Time
}

// Lister lists the blobs whose name starts with prefix.
type Lister interface {
	List(ctx context.Context, prefix string) ([]Blob, error)
}

// AzureLister lists blobs of one Azure Blob Storage or ADLS Gen2 container.
type AzureLister struct {
	client    *azblob.Client
	container string
}

var _ Lister = (*AzureLister)(nil)

// NewAzureLister creates a lister from a storage account connection string.
func NewAzureLister(connectionString, container string) (*AzureLister, error) {
	if container == "" {
		return nil, fmt.Errorf("no container specified")
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client from connection string: %w", err)
	}
	return NewAzureListerFromClient(client, container), nil
}

// NewAzureListerFromClient wraps an existing client, e.g. one authenticated with a token credential.
func NewAzureListerFromClient(client *azblob.Client, container string) *AzureLister {
	return &AzureLister{client: client, container: container}
}

// List walks every page of the flat listing under prefix.
func (l *AzureLister) List(ctx context.Context, prefix string) ([]Blob, error) {
	pager := l.client.NewListBlobsFlatPager(l.container, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})

	var blobs []Blob
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs: %w", err)
		}

		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			b := Blob{Name: *item.Name}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					b.Size = *item.Properties.ContentLength
				}
				if item.Properties.LastModified != nil {
					b.LastModified = *item.Properties.LastModified
				}
			}
			blobs = append(blobs, b)
		}
	}
	return blobs, nil
}
