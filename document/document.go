package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/songzhibin97/gkit/generator"

	"github.com/servicehub/taskflow-engine/events"
	"github.com/servicehub/taskflow-engine/rules"
	"github.com/servicehub/taskflow-engine/storage"
	"github.com/servicehub/taskflow-engine/types"
)

// Standard error definitions. Callers match with errors.Is.
var (
	// ErrInvalidTransition means the document's current status does not
	// permit the requested operation.
	ErrInvalidTransition = errors.New("invalid document transition")

	// ErrDocumentLocked means an edit was attempted on a document that has
	// left draft. The lock is unconditional, regardless of role.
	ErrDocumentLocked = errors.New("document is locked")

	// ErrIncompleteSerials means the submission gate failed: serial counts
	// do not cover declared quantities.
	ErrIncompleteSerials = errors.New("incomplete serials")

	// ErrValidationFailed means invalid input: missing rejection reason,
	// duplicate serial, over-scanned line.
	ErrValidationFailed = errors.New("document validation failed")
)

// StockApplier is the inventory collaborator invoked on approval. It applies
// declared-quantity deltas per line item to the target virtual warehouse.
type StockApplier interface {
	ApplyStockDelta(ctx context.Context, documentID uint64, items []types.LineItem) error
}

// Engine drives the stock document state machine:
// draft -> pending_approval -> {approved, rejected}. Rejection ends that
// submission cycle; line items are editable only while in draft. Every
// mutation commits with a compare-and-swap save.
type Engine struct {
	storage         storage.Storage
	eventBus        *events.Bus
	generate        generator.Generator
	stock           StockApplier
	evaluator       rules.Evaluator
	autoApproveRule string
}

// Option configures a document Engine.
type Option func(*Engine)

// WithEventBus replaces the default event bus.
func WithEventBus(bus *events.Bus) Option {
	return func(e *Engine) {
		if bus != nil {
			e.eventBus = bus
		}
	}
}

// WithAutoApproveRule sets an expression evaluated against the document
// context at submission time; a true result approves the document
// immediately after it enters pending_approval.
func WithAutoApproveRule(expression string, evaluator rules.Evaluator) Option {
	return func(e *Engine) {
		e.autoApproveRule = expression
		if evaluator != nil {
			e.evaluator = evaluator
		}
	}
}

// NewEngine creates a document Engine. The stock applier is required since
// approval is meaningless without the inventory side effect; a nil store
// falls back to in-memory storage.
func NewEngine(generate generator.Generator, store storage.Storage, stock StockApplier, opts ...Option) (*Engine, error) {
	if generate == nil {
		return nil, errors.New("generator is required")
	}
	if stock == nil {
		return nil, errors.New("stock applier is required")
	}
	if store == nil {
		store = storage.NewMemoryStorage()
	}

	e := &Engine{
		storage:   store,
		eventBus:  events.NewBus(),
		generate:  generate,
		stock:     stock,
		evaluator: rules.NewExprEvaluator(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SubscribeEvent subscribes an event handler to a specific event type.
func (e *Engine) SubscribeEvent(eventType string, handler events.Handler) {
	e.eventBus.Subscribe(eventType, handler)
}

// Stop gracefully stops the engine's event bus.
func (e *Engine) Stop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		e.eventBus.Stop()
		return nil
	}
}

func (e *Engine) publishEvent(ctx context.Context, eventType string, doc types.StockDocument, data map[string]interface{}) {
	go e.eventBus.Publish(ctx, events.Event{
		Type:   eventType,
		Entity: entityRef(doc),
		Data:   data,
	})
}

// entityRef maps a document to the entity ref its tasks and events bind to.
func entityRef(doc types.StockDocument) types.EntityRef {
	switch doc.Kind {
	case types.DocumentIssue:
		return types.IssueRef(doc.ID)
	case types.DocumentTransfer:
		return types.TransferRef(doc.ID)
	default:
		return types.ReceiptRef(doc.ID)
	}
}

// Create opens a new draft document.
func (e *Engine) Create(ctx context.Context, kind types.DocumentKind, sourceWarehouse, targetWarehouse uint64, items []types.LineItem) (*types.StockDocument, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if err := validateItems(items); err != nil {
		return nil, err
	}

	id, err := e.generate.NextID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ID: %w", err)
	}

	now := time.Now().UnixMilli()
	doc := types.StockDocument{
		ID:              id,
		Kind:            kind,
		Status:          types.DocumentDraft,
		SourceWarehouse: sourceWarehouse,
		TargetWarehouse: targetWarehouse,
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.storage.SaveDocument(ctx, doc, 0); err != nil {
		return nil, err
	}
	doc.Version = 1
	return &doc, nil
}

// Get retrieves a stock document by ID.
func (e *Engine) Get(ctx context.Context, documentID uint64) (*types.StockDocument, error) {
	doc, err := e.storage.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Completeness returns the canonical serial-count derivation for the
// document's current snapshot.
func (e *Engine) Completeness(ctx context.Context, documentID uint64) (types.Completeness, error) {
	doc, err := e.storage.GetDocument(ctx, documentID)
	if err != nil {
		return types.Completeness{}, err
	}
	return types.DocumentCompleteness(doc), nil
}

// UpdateLines replaces the document's line items. Allowed only in draft.
func (e *Engine) UpdateLines(ctx context.Context, documentID uint64, items []types.LineItem) (*types.StockDocument, error) {
	doc, err := e.storage.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != types.DocumentDraft {
		return nil, fmt.Errorf("%w: document %d is %s", ErrDocumentLocked, documentID, doc.Status)
	}
	if err := validateItems(items); err != nil {
		return nil, err
	}

	doc.Items = items
	doc.UpdatedAt = time.Now().UnixMilli()
	if err := e.commit(ctx, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// AddSerials records scanned serials on a product line. Allowed in draft
// for all kinds, and additionally on approved receipts: receipt stock
// updates on approval, serials trail in afterwards.
func (e *Engine) AddSerials(ctx context.Context, documentID uint64, productID uint64, serials ...string) (*types.StockDocument, error) {
	doc, err := e.storage.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	editable := doc.Status == types.DocumentDraft ||
		(doc.Kind == types.DocumentReceipt && doc.Status == types.DocumentApproved)
	if !editable {
		return nil, fmt.Errorf("%w: document %d is %s", ErrDocumentLocked, documentID, doc.Status)
	}

	idx := -1
	for i, item := range doc.Items {
		if item.ProductID == productID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: product %d is not on document %d", ErrValidationFailed, productID, documentID)
	}

	line := doc.Items[idx]
	recorded := make([]string, len(line.Serials), len(line.Serials)+len(serials))
	copy(recorded, line.Serials)
	line.Serials = recorded

	existing := make(map[string]bool, len(line.Serials))
	for _, s := range line.Serials {
		existing[s] = true
	}
	for _, s := range serials {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("%w: empty serial for product %d", ErrValidationFailed, productID)
		}
		if existing[s] {
			return nil, fmt.Errorf("%w: serial %q already recorded for product %d", ErrValidationFailed, s, productID)
		}
		existing[s] = true
		line.Serials = append(line.Serials, s)
	}
	if len(line.Serials) > line.DeclaredQuantity {
		return nil, fmt.Errorf("%w: product %d has %d serials for declared quantity %d",
			ErrValidationFailed, productID, len(line.Serials), line.DeclaredQuantity)
	}

	doc.Items[idx] = line
	doc.UpdatedAt = time.Now().UnixMilli()
	if err := e.commit(ctx, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SubmitForApproval moves a draft document to pending_approval. Issue and
// transfer documents must have full serial coverage on every line; receipts
// submit regardless of completeness. The completeness check runs against the
// single snapshot read here, never accumulated incrementally. A configured
// auto-approve rule that evaluates true approves the document immediately.
func (e *Engine) SubmitForApproval(ctx context.Context, documentID uint64) (*types.StockDocument, error) {
	doc, err := e.storage.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != types.DocumentDraft {
		return nil, fmt.Errorf("%w: cannot submit document %d in status %s", ErrInvalidTransition, documentID, doc.Status)
	}

	if doc.Kind.RequiresFullSerials() {
		for _, item := range doc.Items {
			if len(item.Serials) != item.DeclaredQuantity {
				return nil, fmt.Errorf("%w: product %d has %d of %d serials on document %d",
					ErrIncompleteSerials, item.ProductID, len(item.Serials), item.DeclaredQuantity, documentID)
			}
		}
	}

	autoApprove := false
	if e.autoApproveRule != "" {
		autoApprove, err = e.evaluator.Evaluate(e.autoApproveRule, rules.DocumentContext(doc))
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate auto-approve rule: %w", err)
		}
	}

	doc.Status = types.DocumentPendingApproval
	doc.RejectionReason = ""
	doc.UpdatedAt = time.Now().UnixMilli()
	if err := e.commit(ctx, &doc); err != nil {
		return nil, err
	}
	e.publishEvent(ctx, events.DocumentSubmitted, doc, map[string]interface{}{
		"document_id": doc.ID,
		"status":      string(doc.Status),
	})

	if autoApprove {
		return e.Approve(ctx, documentID)
	}
	return &doc, nil
}

// Approve applies the stock delta through the inventory collaborator and
// moves the document to approved. A failed delta application leaves the
// document in pending_approval.
func (e *Engine) Approve(ctx context.Context, documentID uint64) (*types.StockDocument, error) {
	doc, err := e.storage.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != types.DocumentPendingApproval {
		return nil, fmt.Errorf("%w: cannot approve document %d in status %s", ErrInvalidTransition, documentID, doc.Status)
	}

	// Claim the approval by bumping the version before touching the
	// inventory collaborator. A racing approver loses the version check
	// here, so the stock delta applies at most once per approval.
	doc.UpdatedAt = time.Now().UnixMilli()
	if err := e.commit(ctx, &doc); err != nil {
		return nil, err
	}

	if err := e.stock.ApplyStockDelta(ctx, doc.ID, doc.Items); err != nil {
		return nil, fmt.Errorf("failed to apply stock delta for document %d: %w", documentID, err)
	}

	doc.Status = types.DocumentApproved
	doc.UpdatedAt = time.Now().UnixMilli()
	if err := e.commit(ctx, &doc); err != nil {
		return nil, err
	}
	e.publishEvent(ctx, events.DocumentApproved, doc, map[string]interface{}{
		"document_id": doc.ID,
		"status":      string(doc.Status),
	})
	return &doc, nil
}

// Reject returns the document to the submitter with a mandatory reason.
// Rejection is terminal for that submission cycle.
func (e *Engine) Reject(ctx context.Context, documentID uint64, reason string) (*types.StockDocument, error) {
	doc, err := e.storage.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != types.DocumentPendingApproval {
		return nil, fmt.Errorf("%w: cannot reject document %d in status %s", ErrInvalidTransition, documentID, doc.Status)
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrValidationFailed)
	}

	doc.Status = types.DocumentRejected
	doc.RejectionReason = reason
	doc.UpdatedAt = time.Now().UnixMilli()
	if err := e.commit(ctx, &doc); err != nil {
		return nil, err
	}
	e.publishEvent(ctx, events.DocumentRejected, doc, map[string]interface{}{
		"document_id": doc.ID,
		"status":      string(doc.Status),
		"reason":      reason,
	})
	return &doc, nil
}

// Complete closes an approved document once serial coverage is full. This
// is the receipt follow-up path: serials recorded post-approval promote the
// document to completed.
func (e *Engine) Complete(ctx context.Context, documentID uint64) (*types.StockDocument, error) {
	doc, err := e.storage.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != types.DocumentApproved {
		return nil, fmt.Errorf("%w: cannot complete document %d in status %s", ErrInvalidTransition, documentID, doc.Status)
	}
	if c := types.DocumentCompleteness(doc); !c.Full() {
		return nil, fmt.Errorf("%w: document %d has %d of %d serials", ErrIncompleteSerials, documentID, c.Current, c.Total)
	}

	doc.Status = types.DocumentCompleted
	doc.UpdatedAt = time.Now().UnixMilli()
	if err := e.commit(ctx, &doc); err != nil {
		return nil, err
	}
	e.publishEvent(ctx, events.DocumentCompleted, doc, map[string]interface{}{
		"document_id": doc.ID,
		"status":      string(doc.Status),
	})
	return &doc, nil
}

// Delete removes a draft document. Anything past draft is locked.
func (e *Engine) Delete(ctx context.Context, documentID uint64) error {
	doc, err := e.storage.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status != types.DocumentDraft {
		return fmt.Errorf("%w: cannot delete document %d in status %s", ErrDocumentLocked, documentID, doc.Status)
	}

	if err := e.storage.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	e.publishEvent(ctx, events.DocumentDeleted, doc, map[string]interface{}{
		"document_id": doc.ID,
	})
	return nil
}

// commit saves the mutated document conditioned on the version it was read
// at, then reflects the new version on the local copy.
func (e *Engine) commit(ctx context.Context, doc *types.StockDocument) error {
	if err := e.storage.SaveDocument(ctx, *doc, doc.Version); err != nil {
		return err
	}
	doc.Version++
	return nil
}

func validateItems(items []types.LineItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: document needs at least one line item", ErrValidationFailed)
	}
	seen := make(map[uint64]bool, len(items))
	for _, item := range items {
		if item.ProductID == 0 {
			return fmt.Errorf("%w: line item product ID cannot be zero", ErrValidationFailed)
		}
		if item.DeclaredQuantity <= 0 {
			return fmt.Errorf("%w: product %d declared quantity must be positive", ErrValidationFailed, item.ProductID)
		}
		if seen[item.ProductID] {
			return fmt.Errorf("%w: product %d appears on more than one line", ErrValidationFailed, item.ProductID)
		}
		seen[item.ProductID] = true
		if len(item.Serials) > item.DeclaredQuantity {
			return fmt.Errorf("%w: product %d has more serials than declared", ErrValidationFailed, item.ProductID)
		}
	}
	return nil
}
