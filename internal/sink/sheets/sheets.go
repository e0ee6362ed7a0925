// Package sheets appends verified batches to a Google Sheets worksheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/JakeFAU/leadstream/internal/lead"
)

const (
	defaultWorksheet = "Leads"
	defaultRows      = 1000
	valueInputOption = "USER_ENTERED"
)

// Config identifies the target spreadsheet.
type Config struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	Worksheet       string `mapstructure:"worksheet"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// Writer is a lead.SinkWriter backed by the Sheets API. Each batch is sent as a
// single append call.
type Writer struct {
	svc    *gsheets.Service
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	ready bool
}

// New creates the Sheets client. Extra options override the credentials file.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Writer, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("sheets: spreadsheet id is required")
	}
	if cfg.Worksheet == "" {
		cfg.Worksheet = defaultWorksheet
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clientOpts := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts...)
	svc, err := gsheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Writer{svc: svc, cfg: cfg, logger: logger}, nil
}

// URL links to the spreadsheet in the browser.
func (w *Writer) URL() string {
	return "https://docs.google.com/spreadsheets/d/" + w.cfg.SpreadsheetID
}

// Persist implements lead.SinkWriter.
func (w *Writer) Persist(ctx context.Context, batch []lead.Annotated) error {
	rows := lead.Rows(batch)
	if len(rows) == 0 {
		return nil
	}
	if err := w.ensureWorksheet(ctx); err != nil {
		return err
	}
	resp, err := w.svc.Spreadsheets.Values.
		Append(w.cfg.SpreadsheetID, w.anchor(), &gsheets.ValueRange{Values: toValues(rows)}).
		ValueInputOption(valueInputOption).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append rows to sheet: %w", err)
	}
	updated := ""
	if resp.Updates != nil {
		updated = resp.Updates.UpdatedRange
	}
	w.logger.Info("sheet rows appended", zap.Int("count", len(rows)), zap.String("range", updated))
	return nil
}

// ensureWorksheet creates the worksheet with a header row on first use.
func (w *Writer) ensureWorksheet(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ready {
		return nil
	}
	ss, err := w.svc.Spreadsheets.Get(w.cfg.SpreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("load spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == w.cfg.Worksheet {
			w.ready = true
			return nil
		}
	}

	add := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{
				Properties: &gsheets.SheetProperties{
					Title: w.cfg.Worksheet,
					GridProperties: &gsheets.GridProperties{
						RowCount:    defaultRows,
						ColumnCount: int64(len(lead.Header)),
					},
				},
			},
		}},
	}
	if _, err := w.svc.Spreadsheets.BatchUpdate(w.cfg.SpreadsheetID, add).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add worksheet %q: %w", w.cfg.Worksheet, err)
	}
	header := &gsheets.ValueRange{Values: toValues([][]string{lead.Header})}
	if _, err := w.svc.Spreadsheets.Values.
		Append(w.cfg.SpreadsheetID, w.anchor(), header).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("write header row: %w", err)
	}
	w.logger.Info("worksheet created", zap.String("worksheet", w.cfg.Worksheet))
	w.ready = true
	return nil
}

func (w *Writer) anchor() string {
	return "'" + strings.ReplaceAll(w.cfg.Worksheet, "'", "''") + "'!A1"
}

func toValues(rows [][]string) [][]interface{} {
	out := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		cells := make([]interface{}, len(row))
		for i, v := range row {
			cells[i] = v
		}
		out = append(out, cells)
	}
	return out
}
