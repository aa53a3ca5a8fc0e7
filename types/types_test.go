package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatus(t *testing.T) {
	t.Run("Terminal", func(t *testing.T) {
		assert.True(t, TaskCompleted.Terminal())
		assert.True(t, TaskSkipped.Terminal())
		assert.False(t, TaskPending.Terminal())
		assert.False(t, TaskInProgress.Terminal())
		assert.False(t, TaskBlocked.Terminal())
	})

	t.Run("Valid", func(t *testing.T) {
		for _, s := range []TaskStatus{TaskPending, TaskInProgress, TaskCompleted, TaskBlocked, TaskSkipped} {
			assert.True(t, s.Valid())
		}
		assert.False(t, TaskStatus("archived").Valid())
	})

	t.Run("EveryStatusHasLabel", func(t *testing.T) {
		for _, s := range []TaskStatus{TaskPending, TaskInProgress, TaskCompleted, TaskBlocked, TaskSkipped} {
			assert.NotEqual(t, "Unknown", s.Label())
		}
		assert.Equal(t, "Unknown", TaskStatus("archived").Label())
	})
}

func TestDocumentStatusLabels(t *testing.T) {
	for _, s := range []DocumentStatus{DocumentDraft, DocumentPendingApproval, DocumentApproved, DocumentRejected, DocumentCompleted} {
		assert.NotEqual(t, "Unknown", s.Label())
	}
	assert.Equal(t, "Unknown", DocumentStatus("void").Label())
}

func TestEntityRef(t *testing.T) {
	assert.Equal(t, EntityRef{Kind: EntityServiceTicket, ID: 1}, TicketRef(1))
	assert.Equal(t, EntityRef{Kind: EntityInventoryReceipt, ID: 2}, ReceiptRef(2))
	assert.Equal(t, EntityRef{Kind: EntityInventoryIssue, ID: 3}, IssueRef(3))
	assert.Equal(t, EntityRef{Kind: EntityInventoryTransfer, ID: 4}, TransferRef(4))

	assert.True(t, EntityRef{}.IsZero())
	assert.False(t, TicketRef(1).IsZero())

	// Refs are comparable map keys: same ID, different kind, distinct keys.
	m := map[EntityRef]bool{IssueRef(1): true}
	assert.False(t, m[ReceiptRef(1)])
}

func TestDocumentKindRequiresFullSerials(t *testing.T) {
	assert.True(t, DocumentIssue.RequiresFullSerials())
	assert.True(t, DocumentTransfer.RequiresFullSerials())
	assert.False(t, DocumentReceipt.RequiresFullSerials())
}

func TestDocumentCompleteness(t *testing.T) {
	t.Run("Partial", func(t *testing.T) {
		doc := StockDocument{Items: []LineItem{
			{ProductID: 1, DeclaredQuantity: 5, Serials: []string{"A", "B", "C", "D"}},
			{ProductID: 2, DeclaredQuantity: 5, Serials: []string{"E", "F", "G", "H", "I"}},
			{ProductID: 3, DeclaredQuantity: 5, Serials: []string{"J", "K", "L", "M", "N"}},
		}}
		c := DocumentCompleteness(doc)
		assert.Equal(t, Completeness{Current: 14, Total: 15, Percent: 93}, c)
		assert.False(t, c.Full())
	})

	t.Run("Full", func(t *testing.T) {
		doc := StockDocument{Items: []LineItem{
			{ProductID: 1, DeclaredQuantity: 2, Serials: []string{"A", "B"}},
		}}
		c := DocumentCompleteness(doc)
		assert.Equal(t, Completeness{Current: 2, Total: 2, Percent: 100}, c)
		assert.True(t, c.Full())
	})

	t.Run("NoItems", func(t *testing.T) {
		c := DocumentCompleteness(StockDocument{})
		assert.Equal(t, Completeness{Current: 0, Total: 0, Percent: 100}, c)
		assert.True(t, c.Full())
	})
}
