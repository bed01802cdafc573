package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-import/internal/domain"
)

// LedgerPoster posts confirmed transactions as pages of a Notion database.
// Transactions already present for the upload are skipped, so a redelivered
// event only fills in what an earlier attempt missed.
type LedgerPoster struct {
	client     NotionService
	databaseID string
	log        zerolog.Logger
}

// NewLedgerPoster creates a poster for databaseID.
func NewLedgerPoster(client NotionService, databaseID string, log zerolog.Logger) *LedgerPoster {
	return &LedgerPoster{client: client, databaseID: databaseID, log: log}
}

// Handle posts the event's transactions. It matches events.Handler.
func (p *LedgerPoster) Handle(ctx context.Context, ev domain.StatementImportConfirmedEvent) error {
	existing, err := p.postedTransactions(ctx, ev.StatementUploadID)
	if err != nil {
		return fmt.Errorf("LedgerPoster: %w", err)
	}

	created, skipped := 0, 0
	for _, tx := range ev.Transactions {
		if existing[tx.TransactionID] {
			skipped++
			continue
		}
		props := ConfirmedTransactionToNotionProperties(ev, tx)
		if _, err := p.client.CreatePage(ctx, p.databaseID, props); err != nil {
			return fmt.Errorf("LedgerPoster: transaction %s: %w", tx.TransactionID, err)
		}
		created++
	}

	p.log.Info().
		Str("upload_id", ev.StatementUploadID).
		Int("created", created).
		Int("skipped", skipped).
		Msg("Ledger posting completed")
	return nil
}

// postedTransactions returns the transaction ids already posted for an upload.
// Handles pagination automatically.
func (p *LedgerPoster) postedTransactions(ctx context.Context, uploadID string) (map[string]bool, error) {
	posted := make(map[string]bool)
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			Filter: notionapi.PropertyFilter{
				Property: propUploadID,
				RichText: &notionapi.TextFilterCondition{Equals: uploadID},
			},
			PageSize: 100,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := p.client.QueryDatabase(ctx, p.databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("query posted pages: %w", err)
		}
		for _, page := range resp.Results {
			if id := extractTransactionID(page); id != "" {
				posted[id] = true
			}
		}

		if !resp.HasMore {
			return posted, nil
		}
		cursor = resp.NextCursor
	}
}
