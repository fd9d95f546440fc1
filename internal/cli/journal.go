package cli

import (
	"context"
	"fmt"
	"time"

	natsclient "github.com/capitalize-ai/memory-hub/internal/nats"
)

const natsConnectTimeout = 10 * time.Second

// connectJournal opens the activity journal. It returns nils when NATS is not
// configured.
func (a *app) connectJournal(ctx context.Context) (*natsclient.Client, *natsclient.Journal, error) {
	if !a.cfg.JournalEnabled() {
		return nil, nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, natsConnectTimeout)
	defer cancel()

	client, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      a.cfg.NATSURL,
		CAFile:   a.cfg.NATSCAFile,
		CertFile: a.cfg.NATSCertFile,
		KeyFile:  a.cfg.NATSKeyFile,
		Token:    a.cfg.NATSToken,
	}, a.log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	journal := natsclient.NewJournal(client)
	if err := journal.EnsureStream(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to ensure activity stream: %w", err)
	}
	return client, journal, nil
}
