package documents

import "fmt"

// transitions holds the allowed edges per document type. Absent edges are
// rejected, including self transitions.
var transitions = map[DocumentType]map[Status][]Status{
	TypePurchaseOrder: {
		StatusNonValide: {StatusValide, StatusAnnule},
		StatusValide:    {StatusEnvoyeBC, StatusAnnule},
		StatusEnvoyeBC:  {StatusExpedie, StatusAnnule},
	},
	TypeDeliveryNote: {
		StatusCree: {StatusValide, StatusAnnule},
	},
	TypeSale: {
		StatusCree: {StatusValide, StatusAnnule},
	},
	TypeReturnInvoice: {
		StatusCree: {StatusValide},
	},
}

// CanTransition reports whether the edge exists in the transition table.
// Guards are checked separately by Transition.
func CanTransition(docType DocumentType, from, to Status) bool {
	for _, next := range transitions[docType][from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves doc to target after checking the edge and its guards.
// The document is left untouched on error.
func Transition(doc *Document, target Status) error {
	if !CanTransition(doc.Type, doc.Status, target) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, doc.Type, doc.Status, target)
	}
	if err := checkGuards(doc, target); err != nil {
		return err
	}
	doc.Status = target
	return nil
}

func checkGuards(doc *Document, target Status) error {
	switch target {
	case StatusValide:
		if !hasPositiveLine(doc.Lines) {
			return fmt.Errorf("%w: validation requires at least one line with positive quantity", ErrInvalidTransition)
		}
	case StatusEnvoyeBC:
		if doc.BCNumber == "" {
			return fmt.Errorf("%w: submission to the ERP must succeed first", ErrInvalidTransition)
		}
	case StatusExpedie:
		for _, line := range doc.Lines {
			if line.QteRecue == nil {
				return fmt.Errorf("%w: every line needs a received quantity", ErrInvalidTransition)
			}
		}
	}
	return nil
}

func hasPositiveLine(lines []Line) bool {
	for _, line := range lines {
		if line.Qte > 0 {
			return true
		}
	}
	return false
}
