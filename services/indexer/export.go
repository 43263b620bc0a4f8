package indexer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

const exportPage = 1000

type parquetEvent struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Position   int32  `parquet:"name=position, type=INT32"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Contract   string `parquet:"name=contract, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64  `parquet:"name=timestamp, type=INT64"`
	Time       string `parquet:"name=time, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes every mirrored event matching filter to w as a Parquet
// file, oldest first. filter.Limit is ignored. It returns the number of rows
// written.
func (i *Indexer) ExportParquet(ctx context.Context, w io.Writer, filter Filter) (int, error) {
	fw := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(fw, new(parquetEvent), 1)
	if err != nil {
		return 0, fmt.Errorf("indexer: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	var (
		written  int
		afterSeq uint64
		afterPos uint32
		started  bool
	)
	for {
		if err := ctx.Err(); err != nil {
			pw.WriteStop()
			return written, err
		}
		tx, err := i.filtered(ctx, filter)
		if err != nil {
			pw.WriteStop()
			return written, err
		}
		if started {
			tx = tx.Where("(sequence > ? OR (sequence = ? AND position > ?))", afterSeq, afterSeq, afterPos)
		}
		var rows []EventRecord
		if err := tx.Order("sequence ASC").Order("position ASC").Limit(exportPage).Find(&rows).Error; err != nil {
			pw.WriteStop()
			return written, err
		}
		for _, row := range rows {
			if err := pw.Write(&parquetEvent{
				Sequence:   int64(row.Sequence),
				Position:   int32(row.Position),
				Type:       row.Type,
				Contract:   row.Contract,
				Timestamp:  row.Timestamp,
				Time:       time.Unix(row.Timestamp, 0).UTC().Format(time.RFC3339),
				Attributes: row.Attributes,
			}); err != nil {
				pw.WriteStop()
				return written, fmt.Errorf("indexer: write parquet row: %w", err)
			}
			written++
		}
		if len(rows) < exportPage {
			break
		}
		last := rows[len(rows)-1]
		afterSeq, afterPos, started = last.Sequence, last.Position, true
	}
	if err := pw.WriteStop(); err != nil {
		return written, fmt.Errorf("indexer: finish parquet: %w", err)
	}
	return written, nil
}
