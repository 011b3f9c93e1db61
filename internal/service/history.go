package service

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"dice-game-bot/internal/model"
)

const (
	// DefaultHistoryLimit is used when the caller does not give a limit.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps list requests.
	MaxHistoryLimit = 500
	// maxExportRows caps a single export.
	maxExportRows = 10000

	exportSheet = "History"
)

// HistoryStore is the read side of the round history.
type HistoryStore interface {
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]*model.HistoryEntry, error)
}

// HistoryService exposes round history for audit and export.
type HistoryService struct {
	store HistoryStore
}

// NewHistoryService creates a new HistoryService instance.
func NewHistoryService(store HistoryStore) *HistoryService {
	return &HistoryService{store: store}
}

// List returns up to limit rounds for the account, newest first.
// limit is clamped to [1, MaxHistoryLimit]; zero means DefaultHistoryLimit.
func (s *HistoryService) List(ctx context.Context, accountID int64, limit int) ([]*model.HistoryEntry, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	entries, err := s.store.ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, &SystemError{Op: "list history", Err: err}
	}
	return entries, nil
}

// ExportXLSX writes the account's history as a spreadsheet to w.
func (s *HistoryService) ExportXLSX(ctx context.Context, accountID int64, w io.Writer) error {
	entries, err := s.store.ListByAccount(ctx, accountID, maxExportRows)
	if err != nil {
		return &SystemError{Op: "export history", Err: err}
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return &SystemError{Op: "export history", Err: err}
	}

	header := []any{"id", "account_id", "created_at", "user_score", "bot_score", "result", "points_change"}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return &SystemError{Op: "export history", Err: err}
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return &SystemError{Op: "export history", Err: err}
		}
		row := []any{
			e.ID,
			e.AccountID,
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			e.UserScore,
			e.BotScore,
			string(e.Result),
			e.PointsChange,
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return &SystemError{Op: "export history", Err: fmt.Errorf("row %d: %w", i+2, err)}
		}
	}

	if err := f.Write(w); err != nil {
		return &SystemError{Op: "export history", Err: err}
	}
	return nil
}
