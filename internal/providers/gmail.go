package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"

	"github.com/tyemirov/insightdash/internal/oauthkit"
)

const (
	// DefaultGmailMaxResults is used when the caller does not ask for a page size.
	DefaultGmailMaxResults = 20
	// MaxGmailMaxResults caps the page size accepted from callers.
	MaxGmailMaxResults = 100

	defaultDetailConcurrency = 10
	gmailUserID              = "me"
	unreadLabel              = "UNREAD"
)

// MessageQuery selects a page of Gmail messages.
type MessageQuery struct {
	Query      string
	MaxResults int
	PageToken  string
}

// MessageSummary is the normalized view of one Gmail message.
type MessageSummary struct {
	ID        string `json:"id"`
	ThreadID  string `json:"threadId"`
	Snippet   string `json:"snippet"`
	From      string `json:"from"`
	FromEmail string `json:"from_email"`
	Subject   string `json:"subject"`
	Date      string `json:"date"`
	Unread    bool   `json:"unread"`
}

// MessagePage is one listing of message summaries.
type MessagePage struct {
	Messages      []MessageSummary
	NextPageToken string
}

// GmailClient lists and normalizes Gmail messages.
type GmailClient struct {
	options           Options
	detailRate        rate.Limit
	detailConcurrency int
}

// NewGmailClient builds a Gmail client. detailsPerSecond bounds the metadata
// fetches of one listing; zero or less means unlimited.
func NewGmailClient(options Options, detailsPerSecond float64) *GmailClient {
	limit := rate.Inf
	if detailsPerSecond > 0 {
		limit = rate.Limit(detailsPerSecond)
	}
	return &GmailClient{
		options:           options,
		detailRate:        limit,
		detailConcurrency: defaultDetailConcurrency,
	}
}

// ListMessages lists messages and fetches their From, Subject, and Date headers.
// Any failed detail fetch fails the whole listing.
func (client *GmailClient) ListMessages(ctx context.Context, accessToken string, query MessageQuery) (MessagePage, error) {
	service, err := gmail.NewService(ctx, client.options.serviceOptions(ctx, accessToken)...)
	if err != nil {
		return MessagePage{}, fmt.Errorf("gmail.new_service: %w", err)
	}

	listCall := service.Users.Messages.List(gmailUserID).
		MaxResults(int64(normalizeMaxResults(query.MaxResults))).
		Context(ctx)
	if strings.TrimSpace(query.Query) != "" {
		listCall = listCall.Q(query.Query)
	}
	if query.PageToken != "" {
		listCall = listCall.PageToken(query.PageToken)
	}
	listing, err := listCall.Do()
	if err != nil {
		return MessagePage{}, classifyError(oauthkit.ServiceGmail, err)
	}
	if len(listing.Messages) == 0 {
		return MessagePage{Messages: []MessageSummary{}}, nil
	}

	summaries := make([]MessageSummary, len(listing.Messages))
	limiter := rate.NewLimiter(client.detailRate, client.detailConcurrency)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(client.detailConcurrency)
	for index, listed := range listing.Messages {
		group.Go(func() error {
			if waitErr := limiter.Wait(groupCtx); waitErr != nil {
				return oauthkit.NewTransportError(oauthkit.ServiceGmail, waitErr)
			}
			message, getErr := service.Users.Messages.Get(gmailUserID, listed.Id).
				Format("metadata").
				MetadataHeaders("From", "Subject", "Date").
				Context(groupCtx).
				Do()
			if getErr != nil {
				return classifyError(oauthkit.ServiceGmail, getErr)
			}
			summaries[index] = summarizeMessage(message, client.options.now())
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return MessagePage{}, err
	}
	return MessagePage{Messages: summaries, NextPageToken: listing.NextPageToken}, nil
}

func normalizeMaxResults(requested int) int {
	if requested <= 0 {
		return DefaultGmailMaxResults
	}
	if requested > MaxGmailMaxResults {
		return MaxGmailMaxResults
	}
	return requested
}

func summarizeMessage(message *gmail.Message, now time.Time) MessageSummary {
	headers := map[string]string{}
	if message.Payload != nil {
		for _, header := range message.Payload.Headers {
			if _, seen := headers[header.Name]; !seen {
				headers[header.Name] = header.Value
			}
		}
	}

	from, ok := headers["From"]
	if !ok {
		from = "Unknown"
	}
	subject, ok := headers["Subject"]
	if !ok {
		subject = "No Subject"
	}
	date, ok := headers["Date"]
	if !ok {
		date = now.Format(time.RFC3339)
	}

	return MessageSummary{
		ID:        message.Id,
		ThreadID:  message.ThreadId,
		Snippet:   message.Snippet,
		From:      from,
		FromEmail: extractEmailAddress(from),
		Subject:   subject,
		Date:      date,
		Unread:    hasLabel(message.LabelIds, unreadLabel),
	}
}

// extractEmailAddress returns the address between angle brackets, or from itself.
func extractEmailAddress(from string) string {
	start := strings.Index(from, "<")
	end := strings.LastIndex(from, ">")
	if start < 0 || end <= start+1 {
		return from
	}
	return from[start+1 : end]
}

func hasLabel(labels []string, wanted string) bool {
	for _, label := range labels {
		if label == wanted {
			return true
		}
	}
	return false
}
