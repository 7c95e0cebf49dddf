package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/glizzus/cmdcron/internal/datalayer"
	"github.com/glizzus/cmdcron/internal/repository"
)

// ArchivingEventHandler copies the final output of finished runs into
// blob storage under datalayer.OutputKey.
type ArchivingEventHandler struct {
	runs    repository.RunRepository
	storage datalayer.BlobStorage
}

func NewArchivingEventHandler(runs repository.RunRepository, storage datalayer.BlobStorage) *ArchivingEventHandler {
	return &ArchivingEventHandler{runs: runs, storage: storage}
}

func (h *ArchivingEventHandler) HandleEvents(ctx context.Context, events ...RunEvent) error {
	var errs []error
	for _, event := range events {
		if event.Kind != EventRunFinished {
			continue
		}
		rec, err := h.runs.GetRun(ctx, event.RunID)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to load run %s for archiving: %w", event.RunID, err))
			continue
		}
		if err := datalayer.ArchiveOutput(ctx, h.storage, rec.ID, rec.Output); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ EventHandler = (*ArchivingEventHandler)(nil)

// MultiEventHandler fans events out to every handler. All handlers see
// every event even if an earlier one fails.
type MultiEventHandler []EventHandler

func (m MultiEventHandler) HandleEvents(ctx context.Context, events ...RunEvent) error {
	var errs []error
	for _, h := range m {
		if err := h.HandleEvents(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ EventHandler = MultiEventHandler(nil)
