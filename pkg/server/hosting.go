package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentmesh/didwba-go/pkg/did"
	"github.com/agentmesh/didwba-go/pkg/domains"
)

// ErrHostedDIDNotFound reports an unknown hosted-DID id.
var ErrHostedDIDNotFound = errors.New("hosted DID not found")

// ErrBadSubmission reports a hosted-DID submission that is not valid JSON.
var ErrBadSubmission = errors.New("submission is not valid JSON")

// Hosted-DID submission states.
const (
	HostedStatusQueued    = "queued"
	HostedStatusPublished = "published"
	HostedStatusRejected  = "rejected"
)

// HostedDIDRequest is a queued hosted-DID submission. The Document is kept
// byte-for-byte as the peer sent it; publication never rewrites it.
type HostedDIDRequest struct {
	ID          string          `json:"id"`
	DID         string          `json:"did"`
	Status      string          `json:"status"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Document    json.RawMessage `json:"document"`
}

// HostedDIDResult is the processing outcome for one submission.
type HostedDIDResult struct {
	ID          string    `json:"id"`
	DID         string    `json:"did"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// HostedDIDQueue accepts DID documents from authenticated peers and
// publishes them under this responder's domain. Submissions land in a queue
// directory; a background sweep validates each document and either publishes
// it to the hosted store or records a rejection.
type HostedDIDQueue struct {
	queueDir   string
	storeDir   string
	resultsDir string
	logger     *zap.Logger
}

// NewHostedDIDQueue creates the queue over the domain's data paths, creating
// the directories as needed.
func NewHostedDIDQueue(paths domains.DataPaths, logger *zap.Logger) (*HostedDIDQueue, error) {
	q := &HostedDIDQueue{
		queueDir:   paths.HostedDIDQueue,
		storeDir:   paths.HostedDIDStore,
		resultsDir: paths.HostedDIDResults,
		logger:     logger,
	}
	for _, dir := range []string{q.queueDir, q.storeDir, q.resultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create hosted-DID dir: %w", err)
		}
	}
	return q, nil
}

// Submit queues a DID document for publication and returns the receipt. The
// document only needs to be well-formed JSON here; full validation happens
// when the queue is processed.
func (q *HostedDIDQueue) Submit(document []byte) (*HostedDIDRequest, error) {
	var peek struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(document, &peek); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSubmission, err)
	}

	req := &HostedDIDRequest{
		ID:          uuid.New().String(),
		DID:         peek.ID,
		Status:      HostedStatusQueued,
		SubmittedAt: time.Now().UTC(),
		Document:    json.RawMessage(document),
	}
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode submission: %w", err)
	}
	if err := os.WriteFile(filepath.Join(q.queueDir, req.ID+".json"), data, 0o644); err != nil {
		return nil, fmt.Errorf("queue submission: %w", err)
	}

	q.logger.Info("hosted DID queued",
		zap.String("id", req.ID), zap.String("did", req.DID))
	return req, nil
}

// ProcessPending sweeps the queue once and returns how many submissions it
// settled. Individual failures are logged and skipped so one bad file cannot
// wedge the queue.
func (q *HostedDIDQueue) ProcessPending(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(q.queueDir)
	if err != nil {
		return 0, fmt.Errorf("read hosted-DID queue: %w", err)
	}

	processed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := q.process(entry.Name()); err != nil {
			q.logger.Error("hosted DID processing failed",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		processed++
	}
	return processed, nil
}

// process settles a single queue file: publish or reject, write the result
// marker, drop the queue entry.
func (q *HostedDIDQueue) process(name string) error {
	path := filepath.Join(q.queueDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read submission: %w", err)
	}
	var req HostedDIDRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("decode submission: %w", err)
	}

	result := HostedDIDResult{
		ID:          req.ID,
		DID:         req.DID,
		Status:      HostedStatusPublished,
		ProcessedAt: time.Now().UTC(),
	}
	if reason := q.validate(req.Document); reason != "" {
		result.Status = HostedStatusRejected
		result.Reason = reason
	} else if err := q.publish(req.ID, req.Document); err != nil {
		return err
	}

	if err := q.writeResult(&result); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("drop queue entry: %w", err)
	}

	RecordHostedDID(result.Status)
	q.logger.Info("hosted DID processed",
		zap.String("id", req.ID),
		zap.String("did", req.DID),
		zap.String("status", result.Status),
		zap.String("reason", result.Reason))
	return nil
}

// validate returns the rejection reason, or "" when the document is
// publishable.
func (q *HostedDIDQueue) validate(document json.RawMessage) string {
	doc, err := did.ParseDocument(document)
	if err != nil {
		return err.Error()
	}
	for _, vm := range doc.VerificationMethod {
		if vm.PublicKeyJwk != nil {
			return ""
		}
	}
	return "no verification method carries a public key"
}

func (q *HostedDIDQueue) publish(id string, document json.RawMessage) error {
	dir := filepath.Join(q.storeDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create hosted-DID entry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "did.json"), document, 0o644); err != nil {
		return fmt.Errorf("publish document: %w", err)
	}
	return nil
}

func (q *HostedDIDQueue) writeResult(result *HostedDIDResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	path := filepath.Join(q.resultsDir, result.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

// StartProcessing starts a background goroutine that sweeps the queue every
// interval. Cancel the context to stop it.
func (q *HostedDIDQueue) StartProcessing(ctx context.Context, interval time.Duration) {
	if interval == 0 {
		interval = 30 * time.Second
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := q.ProcessPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
					q.logger.Error("hosted DID sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// Result returns the processing outcome for a submission id.
func (q *HostedDIDQueue) Result(id string) (*HostedDIDResult, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrHostedDIDNotFound, id)
	}
	data, err := os.ReadFile(filepath.Join(q.resultsDir, id+".json"))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrHostedDIDNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	var result HostedDIDResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}

// Document returns the published document bytes for a hosted-DID id.
func (q *HostedDIDQueue) Document(id string) ([]byte, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrHostedDIDNotFound, id)
	}
	data, err := os.ReadFile(filepath.Join(q.storeDir, id, "did.json"))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrHostedDIDNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read hosted document: %w", err)
	}
	return data, nil
}
