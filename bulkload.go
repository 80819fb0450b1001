package strata

import (
	"context"
	"fmt"

	"github.com/strata-db/strata/engine"
	"github.com/strata-db/strata/sterr"
)

// BulkLoadStart implements spec §4.8's bulkLoadStart: opens an in-memory
// connection sharing page_size, copies the on-disk database into it via
// engine.Conn.BackupTo (the row-streaming substitute for the native
// online-backup API, see engine.Conn.BackupTo), and swaps it into the
// writer slot so subsequent writes land in memory for the duration of a
// heavy import. Holds the write lock for its entire duration, per spec.
func (m *Manager) BulkLoadStart(ctx context.Context) error {
	return m.WithWriteLock(ctx, "bulkLoadStart", func(ctx context.Context) error {
		if m.bulkDiskWriter != nil {
			return sterr.New(sterr.KindUnsupportedOperation, "strata: bulk load already in progress")
		}
		if m.isMemory {
			return sterr.New(sterr.KindUnsupportedOperation, "strata: bulk load requires an on-disk database")
		}

		memWriter, err := engine.Open(engine.Options{
			Path:               ":memory:",
			PageSize:           m.cfg.PageSize,
			BusyTimeout:        m.cfg.BusyTimeout,
			StoreDateTimeTicks: m.cfg.StoreDateTimeAsTicks,
		})
		if err != nil {
			return fmt.Errorf("strata: bulkLoadStart: open in-memory surrogate: %w", err)
		}

		if err := m.writer.BackupTo(ctx, memWriter); err != nil {
			_ = memWriter.Close()
			return fmt.Errorf("strata: bulkLoadStart: copy disk to memory: %w", err)
		}

		m.bulkDiskWriter = m.writer
		m.writer = memWriter
		m.txc.Rebind(memWriter.DB)
		m.logger.Info("strata: bulk load started, writer swapped to in-memory surrogate")
		return nil
	})
}

// BulkLoadFinish implements spec §4.8's bulkLoadFinish: the symmetric
// operation to BulkLoadStart, copying the in-memory surrogate's contents
// back onto disk and swapping the writer slot back to the original
// on-disk connection. Holds the write lock for its entire duration.
func (m *Manager) BulkLoadFinish(ctx context.Context) error {
	return m.WithWriteLock(ctx, "bulkLoadFinish", func(ctx context.Context) error {
		if m.bulkDiskWriter == nil {
			return sterr.New(sterr.KindUnsupportedOperation, "strata: no bulk load in progress")
		}

		memWriter := m.writer
		diskWriter := m.bulkDiskWriter

		if err := memWriter.BackupTo(ctx, diskWriter); err != nil {
			return fmt.Errorf("strata: bulkLoadFinish: copy memory to disk: %w", err)
		}

		m.writer = diskWriter
		m.bulkDiskWriter = nil
		m.txc.Rebind(diskWriter.DB)
		_ = memWriter.Close()
		m.logger.Info("strata: bulk load finished, writer swapped back to disk")
		return nil
	})
}

// BulkLoadRollback implements spec §4.8's bulkLoadRollback: discards the
// in-memory surrogate without copying it back, and reopens the on-disk
// connection fresh. Holds the write lock for its entire duration.
func (m *Manager) BulkLoadRollback(ctx context.Context) error {
	return m.WithWriteLock(ctx, "bulkLoadRollback", func(ctx context.Context) error {
		if m.bulkDiskWriter == nil {
			return sterr.New(sterr.KindUnsupportedOperation, "strata: no bulk load in progress")
		}

		memWriter := m.writer
		_ = m.bulkDiskWriter.Close()

		fresh, err := openEngineConn(m.cfg)
		if err != nil {
			return fmt.Errorf("strata: bulkLoadRollback: reopen on-disk writer: %w", err)
		}

		m.writer = fresh
		m.bulkDiskWriter = nil
		m.txc.Rebind(fresh.DB)
		_ = memWriter.Close()
		m.logger.Warn("strata: bulk load rolled back, in-memory surrogate discarded")
		return nil
	})
}
