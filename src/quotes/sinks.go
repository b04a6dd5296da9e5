package quotes

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"time"

	"rtrader-bridge/src/helpers"
	"rtrader-bridge/src/interfaces"
	"rtrader-bridge/src/models"
)

var csvHeader = []string{"timestamp", "bid", "ask", "spread", "mid"}

// -----------------------------------------------------------------------------
// CSVSink appends one row per update and flushes it immediately so the file
// can be tailed while polling runs.
// -----------------------------------------------------------------------------

type CSVSink struct {
	file *os.File
	w    *csv.Writer
}

func NewCSVSink(path string) (*CSVSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, helpers.NewStorageError("open csv "+path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, helpers.NewStorageError("stat csv "+path, err)
	}

	s := &CSVSink{file: file, w: csv.NewWriter(file)}
	if info.Size() == 0 {
		if err := s.writeRow(csvHeader); err != nil {
			file.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *CSVSink) WriteUpdate(u models.MQuoteUpdate) error {
	return s.writeRow([]string{
		u.Timestamp.UTC().Format(time.RFC3339Nano),
		u.Bid.String(),
		u.Ask.String(),
		u.Spread.String(),
		u.Mid.String(),
	})
}

func (s *CSVSink) writeRow(row []string) error {
	if err := s.w.Write(row); err != nil {
		return helpers.NewStorageError("write csv row", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return helpers.NewStorageError("flush csv", err)
	}
	return nil
}

func (s *CSVSink) Close() error {
	s.w.Flush()
	return errors.Join(s.w.Error(), s.file.Close())
}

// -----------------------------------------------------------------------------
// StorageSink persists every update through the configured database.
// -----------------------------------------------------------------------------

type StorageSink struct {
	DB interfaces.IDatabase
}

func (s StorageSink) WriteUpdate(u models.MQuoteUpdate) error {
	return s.DB.SaveQuoteUpdates([]models.MQuoteUpdate{u})
}

// Close leaves the database open; its owner closes it.
func (s StorageSink) Close() error { return nil }

// -----------------------------------------------------------------------------
// BroadcastSink pushes every update to websocket clients.
// -----------------------------------------------------------------------------

type BroadcastSink struct {
	Exchanger interfaces.IDataExchanger
}

func (s BroadcastSink) WriteUpdate(u models.MQuoteUpdate) error {
	if s.Exchanger == nil {
		return fmt.Errorf("broadcast sink has no exchanger")
	}
	s.Exchanger.Broadcast(u)
	return nil
}

func (s BroadcastSink) Close() error { return nil }
