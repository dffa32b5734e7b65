package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// ArchivePrefix is the key prefix under which execution batches are stored.
const ArchivePrefix = "archive/executions/"

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = minPartSize

// ArchivedLeg is one leg of an archived execution.
type ArchivedLeg struct {
	Venue        string `json:"venue"`
	AssetIn      string `json:"asset_in"`
	AssetOut     string `json:"asset_out"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out"`
	Quoted       string `json:"quoted"`
	Realized     string `json:"realized"`
}

// ArchivedExecution is the JSONL row written per execution. Amounts are
// decimal strings so no precision is lost in transit.
type ArchivedExecution struct {
	ID          string        `json:"id"`
	RequestID   string        `json:"request_id,omitempty"`
	Strategy    string        `json:"strategy"`
	Funding     string        `json:"funding"`
	Asset       string        `json:"asset"`
	Capital     string        `json:"capital,omitempty"`
	Cost        string        `json:"cost,omitempty"`
	Premium     string        `json:"premium,omitempty"`
	Profit      string        `json:"profit,omitempty"`
	Payout      string        `json:"payout,omitempty"`
	Beneficiary string        `json:"beneficiary"`
	Status      string        `json:"status"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	Component   string        `json:"component,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Legs        []ArchivedLeg `json:"legs,omitempty"`
}

// NewArchivedExecution flattens exec into its archive row.
func NewArchivedExecution(exec domain.Execution) ArchivedExecution {
	rec := ArchivedExecution{
		ID:          exec.ID,
		RequestID:   exec.RequestID,
		Strategy:    exec.Strategy.String(),
		Funding:     string(exec.Funding),
		Asset:       exec.Asset.Hex(),
		Capital:     amount(exec.Capital),
		Cost:        amount(exec.Cost),
		Premium:     amount(exec.Premium),
		Profit:      amount(exec.Profit),
		Payout:      amount(exec.Payout),
		Beneficiary: exec.Beneficiary.Hex(),
		Status:      string(exec.Status),
		ErrorKind:   exec.ErrorKind,
		Component:   exec.Component,
		Error:       exec.Error,
		StartedAt:   exec.StartedAt,
		CompletedAt: exec.CompletedAt,
	}
	for _, l := range exec.Legs {
		rec.Legs = append(rec.Legs, ArchivedLeg{
			Venue:        l.Leg.Venue,
			AssetIn:      l.Leg.AssetIn.Hex(),
			AssetOut:     l.Leg.AssetOut.Hex(),
			AmountIn:     amount(l.Leg.AmountIn),
			MinAmountOut: amount(l.Leg.MinAmountOut),
			Quoted:       amount(l.Quoted),
			Realized:     amount(l.Realized),
		})
	}
	return rec
}

// Archiver implements domain.ExecutionArchiver. Each call uploads one JSONL
// object keyed by the day and the first execution in the batch.
//
// Records are never deleted from the primary store here.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	now    func() time.Time
}

// NewArchiver creates an Archiver. reader and audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		audit:  audit,
		now:    time.Now,
	}
}

// Archive uploads execs and returns the object path. An empty batch is a
// no-op and returns "".
func (a *Archiver) Archive(ctx context.Context, execs []domain.Execution) (string, error) {
	if len(execs) == 0 {
		return "", nil
	}

	rows := make([]ArchivedExecution, len(execs))
	for i, exec := range execs {
		rows[i] = NewArchivedExecution(exec)
	}
	buf, err := marshalJSONL(rows)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath(a.now(), execs[0].ID)
	if int64(len(buf)) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.executions", map[string]any{
			"path":  path,
			"count": len(execs),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return path, nil
}

// List returns the archive objects stored so far.
func (a *Archiver) List(ctx context.Context) ([]domain.BlobInfo, error) {
	if a.reader == nil {
		return nil, fmt.Errorf("s3blob: archiver has no reader")
	}
	return a.reader.List(ctx, ArchivePrefix)
}

// Load reads an archive object back into rows.
func (a *Archiver) Load(ctx context.Context, path string) ([]ArchivedExecution, error) {
	if a.reader == nil {
		return nil, fmt.Errorf("s3blob: archiver has no reader")
	}
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return unmarshalJSONL(body)
}

// archivePath partitions objects by UTC day.
//
//	archive/executions/2025-01-31/<first-id>.jsonl
func archivePath(now time.Time, firstID string) string {
	return fmt.Sprintf("%s%s/%s.jsonl", ArchivePrefix, now.UTC().Format("2006-01-02"), firstID)
}

func marshalJSONL(rows []ArchivedExecution) ([]byte, error) {
	var buf bytes.Buffer
	for i, row := range rows {
		line, err := sonnet.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func unmarshalJSONL(r io.Reader) ([]ArchivedExecution, error) {
	var rows []ArchivedExecution
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var row ArchivedExecution
		if err := sonnet.Unmarshal(sc.Bytes(), &row); err != nil {
			return nil, fmt.Errorf("jsonl decode line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("jsonl scan: %w", err)
	}
	return rows, nil
}

func amount(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
