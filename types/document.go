package types

// DocumentKind distinguishes the three stock document flavors.
type DocumentKind string

const (
	DocumentReceipt  DocumentKind = "receipt"
	DocumentIssue    DocumentKind = "issue"
	DocumentTransfer DocumentKind = "transfer"
)

// RequiresFullSerials reports whether the kind must reach full serial
// completeness before submission. Receipts deliberately do not: stock updates
// on approval and serials may be entered afterwards.
func (k DocumentKind) RequiresFullSerials() bool {
	return k == DocumentIssue || k == DocumentTransfer
}

// DocumentStatus is the lifecycle state of a StockDocument.
type DocumentStatus string

const (
	DocumentDraft           DocumentStatus = "draft"
	DocumentPendingApproval DocumentStatus = "pending_approval"
	DocumentApproved        DocumentStatus = "approved"
	DocumentRejected        DocumentStatus = "rejected"
	DocumentCompleted       DocumentStatus = "completed"
)

// Label returns the user-facing label for the status.
func (s DocumentStatus) Label() string {
	switch s {
	case DocumentDraft:
		return "Draft"
	case DocumentPendingApproval:
		return "Pending Approval"
	case DocumentApproved:
		return "Approved"
	case DocumentRejected:
		return "Rejected"
	case DocumentCompleted:
		return "Completed"
	}
	return "Unknown"
}

// LineItem is one product line on a stock document.
type LineItem struct {
	ProductID        uint64   `json:"product_id"`
	DeclaredQuantity int      `json:"declared_quantity"`
	Serials          []string `json:"serials"`
}

// StockDocument is a receipt, issue or transfer record moving inventory
// between warehouse states. Line items are editable only while in draft.
type StockDocument struct {
	ID              uint64         `json:"id"`
	Kind            DocumentKind   `json:"kind"`
	Status          DocumentStatus `json:"status"`
	SourceWarehouse uint64         `json:"source_warehouse,omitempty"`
	TargetWarehouse uint64         `json:"target_warehouse,omitempty"`
	Items           []LineItem     `json:"items"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	Version         uint64         `json:"version"`
	CreatedAt       int64          `json:"created_at"`
	UpdatedAt       int64          `json:"updated_at"`
}

// Completeness is the canonical serial-count derivation for a document.
// All call sites must use this single computation so displayed percentages
// and gating decisions agree.
type Completeness struct {
	Current int `json:"current"`
	Total   int `json:"total"`
	Percent int `json:"percent"`
}

// Full reports whether every declared unit has a recorded serial.
func (c Completeness) Full() bool {
	return c.Current == c.Total
}

// DocumentCompleteness aggregates serial counts against declared quantities
// over all line items of a single document snapshot.
func DocumentCompleteness(doc StockDocument) Completeness {
	var c Completeness
	for _, item := range doc.Items {
		c.Current += len(item.Serials)
		c.Total += item.DeclaredQuantity
	}
	if c.Total > 0 {
		c.Percent = c.Current * 100 / c.Total
	} else {
		c.Percent = 100
	}
	return c
}
