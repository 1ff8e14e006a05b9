package providers

import (
	"context"
	"fmt"

	"google.golang.org/api/searchconsole/v1"

	"github.com/tyemirov/insightdash/internal/oauthkit"
)

const unknownPermissionLevel = "unknown"

// Site is one Search Console property the user can access.
type Site struct {
	URL             string `json:"url"`
	PermissionLevel string `json:"permissionLevel"`
}

// SearchConsoleClient lists Search Console sites.
type SearchConsoleClient struct {
	options Options
}

// NewSearchConsoleClient builds a Search Console client.
func NewSearchConsoleClient(options Options) *SearchConsoleClient {
	return &SearchConsoleClient{options: options}
}

// ListSites returns every site visible to the token owner.
func (client *SearchConsoleClient) ListSites(ctx context.Context, accessToken string) ([]Site, error) {
	service, err := searchconsole.NewService(ctx, client.options.serviceOptions(ctx, accessToken)...)
	if err != nil {
		return nil, fmt.Errorf("searchconsole.new_service: %w", err)
	}
	response, err := service.Sites.List().Context(ctx).Do()
	if err != nil {
		return nil, classifyError(oauthkit.ServiceSearchConsole, err)
	}

	sites := make([]Site, 0, len(response.SiteEntry))
	for _, entry := range response.SiteEntry {
		if entry == nil {
			continue
		}
		permissionLevel := entry.PermissionLevel
		if permissionLevel == "" {
			permissionLevel = unknownPermissionLevel
		}
		sites = append(sites, Site{URL: entry.SiteUrl, PermissionLevel: permissionLevel})
	}
	return sites, nil
}
