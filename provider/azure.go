package provider

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	rr "github.com/tileverse/rangereader"
	"github.com/tileverse/rangereader/azurereader"
)

// azureHostPattern matches the {account}.blob.core.windows.net host spec.md
// §6 uses to identify Azure Blob Storage URIs among plain HTTP(S) ones.
var azureHostPattern = regexp.MustCompile(`^https://[a-z0-9]+\.blob\.core\.windows\.net/`)

type azureProvider struct{}

func newAzureProvider() *azureProvider { return &azureProvider{} }

func (p *azureProvider) ID() string        { return "azure" }
func (p *azureProvider) IsAvailable() bool { return isEnvAvailable(p.ID()) }
func (p *azureProvider) Description() string {
	return "reads byte ranges from Azure Blob Storage"
}
func (p *azureProvider) Order() int { return 20 }

func (p *azureProvider) Parameters() []rr.ProviderParameter {
	return []rr.ProviderParameter{
		{
			Key:         "io.tileverse.rangereader.azure.blob-name",
			Title:       "Blob name",
			Description: "Container-relative blob path, when not already embedded in the URI",
			Group:       "azure",
			Type:        rr.ParameterTypeString,
		},
		{
			Key:         "io.tileverse.rangereader.azure.account-key",
			Title:       "Account key",
			Description: "Shared key used to sign requests",
			Group:       "azure",
			Type:        rr.ParameterTypeString,
		},
		{
			Key:         "io.tileverse.rangereader.azure.sas-token",
			Title:       "SAS token",
			Description: "Shared access signature appended to the blob URL",
			Group:       "azure",
			Type:        rr.ParameterTypeString,
		},
	}
}

func (p *azureProvider) CanProcess(cfg rr.ReaderConfig) bool {
	return azureHostPattern.MatchString(cfg.URI)
}

// CanProcessHeaders disambiguates a generic http(s) URI as Azure Blob
// Storage by the presence of the x-ms-request-id response header, per
// spec.md §6.
func (p *azureProvider) CanProcessHeaders(_ string, headers http.Header) bool {
	return headers.Get("x-ms-request-id") != ""
}

func (p *azureProvider) Create(ctx context.Context, cfg rr.ReaderConfig) (rr.Reader, error) {
	blobURL := cfg.URI
	if name, ok := cfg.Param("io.tileverse.rangereader.azure.blob-name"); ok {
		blobURL = strings.TrimSuffix(cfg.URI, "/") + "/" + strings.TrimPrefix(name, "/")
	}

	account, accountKey, hasKey := accountFromURL(blobURL), "", false
	if key, ok := cfg.Param("io.tileverse.rangereader.azure.account-key"); ok {
		accountKey, hasKey = key, true
	}

	var client *blockblob.Client
	var err error
	switch {
	case hasKey:
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(account, accountKey)
		if err == nil {
			client, err = blockblob.NewClientWithSharedKeyCredential(blobURL, cred, nil)
		}
	case strings.Contains(blobURL, "?"):
		client, err = blockblob.NewClientWithNoCredential(blobURL, nil)
	default:
		if sas, ok := cfg.Param("io.tileverse.rangereader.azure.sas-token"); ok {
			blobURL = blobURL + "?" + strings.TrimPrefix(sas, "?")
		}
		client, err = blockblob.NewClientWithNoCredential(blobURL, nil)
	}
	if err != nil {
		return nil, rr.Wrap(rr.ErrCodeConfig, fmt.Errorf("build azure blob client: %w", err))
	}

	return azurereader.NewSource(ctx, client)
}

func accountFromURL(blobURL string) string {
	trimmed := strings.TrimPrefix(blobURL, "https://")
	host, _, _ := strings.Cut(trimmed, "/")
	account, _, _ := strings.Cut(host, ".")
	return account
}
