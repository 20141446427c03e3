package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/claimgate/internal/model"
)

// Verifier runs verification for one manuscript against one manifest
type Verifier interface {
	RunVerification(ctx context.Context, manuscriptID, manifestID string) ([]model.VerificationPacket, error)
}

// BatchItem is one manuscript/manifest pair. An empty ManifestID means the
// manuscript's own study manifest.
type BatchItem struct {
	ManuscriptID string `json:"manuscript_id"`
	ManifestID   string `json:"manifest_id,omitempty"`
}

func (i BatchItem) String() string {
	if i.ManifestID == "" {
		return i.ManuscriptID
	}
	return i.ManuscriptID + "@" + i.ManifestID
}

// VerifyJob verifies one batch item
type VerifyJob struct {
	Index    int
	Item     BatchItem
	Verifier Verifier
}

// Execute runs the verification
func (j *VerifyJob) Execute(ctx context.Context) Result {
	packets, err := j.Verifier.RunVerification(ctx, j.Item.ManuscriptID, j.Item.ManifestID)
	return &VerifyResult{Index: j.Index, Item: j.Item, Packets: packets, Error: err}
}

// VerifyResult is the outcome of one batch item
type VerifyResult struct {
	Index   int
	Item    BatchItem
	Packets []model.VerificationPacket
	Error   error
}

// GetError returns the error from the verification
func (r *VerifyResult) GetError() error {
	return r.Error
}

// BatchProcessor verifies many manuscripts concurrently
type BatchProcessor struct {
	verifier    Verifier
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(verifier Verifier, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		verifier:    verifier,
		concurrency: concurrency,
	}
}

// ProcessItems verifies all items and returns results in input order.
// Items not dispatched before ctx is cancelled report the context error.
func (b *BatchProcessor) ProcessItems(ctx context.Context, items []BatchItem) []*VerifyResult {
	out := make([]*VerifyResult, len(items))
	if len(items) == 0 {
		return out
	}

	pool := NewPoolWithContext(ctx, b.concurrency)
	pool.Start()

	for i, item := range items {
		if !pool.Submit(&VerifyJob{Index: i, Item: item, Verifier: b.verifier}) {
			break
		}
	}

	for _, r := range pool.Wait() {
		vr := r.(*VerifyResult)
		out[vr.Index] = vr
	}
	for i, r := range out {
		if r == nil {
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			out[i] = &VerifyResult{Index: i, Item: items[i], Error: fmt.Errorf("not started: %w", err)}
		}
	}
	return out
}

// ProcessFile reads batch items from a file and verifies them
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*VerifyResult, error) {
	items, err := ReadItemsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read batch items: %w", err)
	}
	return b.ProcessItems(ctx, items), nil
}

// ReadItemsFromFile reads one "manuscript [manifest]" pair per line.
// Fields may be separated by whitespace or a comma; blank lines and
// # comments are skipped and duplicates dropped.
func ReadItemsFromFile(filePath string) ([]BatchItem, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var items []BatchItem
	seen := make(map[BatchItem]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
		item := BatchItem{ManuscriptID: fields[0]}
		if len(fields) > 1 {
			item.ManifestID = fields[1]
		}
		if !seen[item] {
			seen[item] = true
			items = append(items, item)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return items, nil
}
