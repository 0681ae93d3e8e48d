package cmd

import (
	"fmt"

	"dailybrief/internal/config"
	"dailybrief/internal/core"
	"dailybrief/internal/email"
	"dailybrief/internal/llm"
	"dailybrief/internal/orchestrator"
	"dailybrief/internal/ranker"
	"dailybrief/internal/sources"
	"dailybrief/internal/store"
	"dailybrief/internal/summarize"
)

// openStore opens the SQLite store under the configured data directory.
func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.NewStore(cfg.App.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// buildSources turns configured source entries into fetchers.
func buildSources(cfg *config.Config) []sources.ItemSource {
	var list []sources.ItemSource
	for _, src := range cfg.Sources {
		switch src.Kind {
		case "blog":
			list = append(list, sources.NewBlogSource(src.Name, src.URL,
				src.ItemSelector, src.TitleSelector, src.LinkSelector))
		default:
			sourceType := core.SourceBlog
			if src.Type == "video" {
				sourceType = core.SourceVideo
			}
			list = append(list, sources.NewFeedSource(src.Name, sourceType, src.URL))
		}
	}
	return list
}

// buildOrchestrator wires the full delivery stack: summarization gateway,
// email dispatcher, ranker, and the run state machine.
func buildOrchestrator(cfg *config.Config, st *store.Store) (*orchestrator.Orchestrator, error) {
	client, err := llm.NewClient(cfg.Gemini.Model, cfg.GeminiTimeout())
	if err != nil {
		return nil, fmt.Errorf("init summarization client: %w", err)
	}
	gateway := summarize.NewGateway(client, st, summarize.DefaultOptions())

	sender, err := email.NewSMTPSender(email.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	if err != nil {
		return nil, fmt.Errorf("init email sender: %w", err)
	}
	dispatcher := email.NewDispatcher(sender, email.DefaultTemplate())

	opts := orchestrator.Options{
		Workers:      cfg.Scheduler.Workers,
		RecoveryDays: cfg.Scheduler.RecoveryDays,
		LookbackDays: cfg.Ranker.LookbackDays,
		Tick:         cfg.Tick(),
		Location:     cfg.Location(),
	}
	return orchestrator.New(st, ranker.New(nil), gateway, dispatcher, opts), nil
}
