package documents

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func docWithLines(docType DocumentType, status Status, qtes ...float64) Document {
	doc := Document{Type: docType, Status: status}
	for i, qte := range qtes {
		doc.Lines = append(doc.Lines, Line{ID: int64(i + 1), ProductID: int64(100 + i), Qte: qte})
	}
	return doc
}

func TestTransitionTables(t *testing.T) {
	cases := []struct {
		name    string
		docType DocumentType
		from    Status
		to      Status
		allowed bool
	}{
		{"po validate", TypePurchaseOrder, StatusNonValide, StatusValide, true},
		{"po cancel before submission", TypePurchaseOrder, StatusValide, StatusAnnule, true},
		{"po cancel after submission", TypePurchaseOrder, StatusEnvoyeBC, StatusAnnule, true},
		{"po skip submission", TypePurchaseOrder, StatusValide, StatusExpedie, false},
		{"po cancel after shipment", TypePurchaseOrder, StatusExpedie, StatusAnnule, false},
		{"po backwards", TypePurchaseOrder, StatusValide, StatusNonValide, false},
		{"po self", TypePurchaseOrder, StatusValide, StatusValide, false},
		{"dn validate", TypeDeliveryNote, StatusCree, StatusValide, true},
		{"dn cancel", TypeDeliveryNote, StatusCree, StatusAnnule, true},
		{"dn cancel after validation", TypeDeliveryNote, StatusValide, StatusAnnule, false},
		{"sale validate", TypeSale, StatusCree, StatusValide, true},
		{"sale cancel after validation", TypeSale, StatusValide, StatusAnnule, false},
		{"return validate", TypeReturnInvoice, StatusCree, StatusValide, true},
		{"return cancel", TypeReturnInvoice, StatusCree, StatusAnnule, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.allowed, CanTransition(tc.docType, tc.from, tc.to))
		})
	}
}

func TestTransitionLeavesDocumentUntouchedOnError(t *testing.T) {
	doc := docWithLines(TypePurchaseOrder, StatusNonValide, 5)

	err := Transition(&doc, StatusExpedie)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StatusNonValide, doc.Status)
}

func TestValidateRequiresPositiveLine(t *testing.T) {
	doc := docWithLines(TypeDeliveryNote, StatusCree, 0)

	err := Transition(&doc, StatusValide)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StatusCree, doc.Status)

	doc.Lines[0].Qte = 2
	require.NoError(t, Transition(&doc, StatusValide))
	require.Equal(t, StatusValide, doc.Status)
}

func TestSubmissionRequiresBCNumber(t *testing.T) {
	doc := docWithLines(TypePurchaseOrder, StatusValide, 5)

	err := Transition(&doc, StatusEnvoyeBC)
	require.ErrorIs(t, err, ErrInvalidTransition)

	doc.BCNumber = "PO-1001"
	require.NoError(t, Transition(&doc, StatusEnvoyeBC))
}

func TestShipmentRequiresReceivedQuantities(t *testing.T) {
	doc := docWithLines(TypePurchaseOrder, StatusEnvoyeBC, 5, 3)
	doc.BCNumber = "PO-1001"
	received := 5.0
	doc.Lines[0].QteRecue = &received

	err := Transition(&doc, StatusExpedie)
	require.ErrorIs(t, err, ErrInvalidTransition)

	partial := 2.0
	doc.Lines[1].QteRecue = &partial
	require.NoError(t, Transition(&doc, StatusExpedie))
}
