package model

import "fmt"

// SOPKind selects the composition of an SOP node.
type SOPKind string

const (
	SOPOperation   SOPKind = "operation"
	SOPSequence    SOPKind = "sequence"
	SOPParallel    SOPKind = "parallel"
	SOPAlternative SOPKind = "alternative"
)

// SOPStatus is the evaluation status of an SOP node instance.
type SOPStatus string

const (
	SOPStatusInitial   SOPStatus = "initial"
	SOPStatusExecuting SOPStatus = "executing"
	SOPStatusCompleted SOPStatus = "completed"
	SOPStatusFailed    SOPStatus = "failed"
)

// SOPNode is one node of a structured operating procedure tree. Leaves wrap
// an operation; interior nodes compose children in sequence, in parallel, or
// as alternatives where the first runnable child is chosen.
type SOPNode struct {
	Kind      SOPKind
	Operation *Operation
	Children  []*SOPNode
}

// SOPOp wraps an operation as a leaf node.
func SOPOp(op Operation) *SOPNode {
	return &SOPNode{Kind: SOPOperation, Operation: &op}
}

// Seq composes children sequentially.
func Seq(children ...*SOPNode) *SOPNode {
	return &SOPNode{Kind: SOPSequence, Children: children}
}

// Par composes children in parallel.
func Par(children ...*SOPNode) *SOPNode {
	return &SOPNode{Kind: SOPParallel, Children: children}
}

// Alt composes alternative children; the first whose first precondition is
// runnable is chosen.
func Alt(children ...*SOPNode) *SOPNode {
	return &SOPNode{Kind: SOPAlternative, Children: children}
}

// Operations returns every operation in the subtree, depth first.
func (n *SOPNode) Operations() []*Operation {
	if n == nil {
		return nil
	}
	if n.Kind == SOPOperation {
		return []*Operation{n.Operation}
	}
	var ops []*Operation
	for _, c := range n.Children {
		ops = append(ops, c.Operations()...)
	}
	return ops
}

// Validate checks the structural shape of the subtree.
func (n *SOPNode) Validate() error {
	if n == nil {
		return fmt.Errorf("nil sop node")
	}
	switch n.Kind {
	case SOPOperation:
		if n.Operation == nil {
			return fmt.Errorf("operation sop node without an operation")
		}
		if len(n.Children) != 0 {
			return fmt.Errorf("operation sop node %s must be a leaf", n.Operation.Name)
		}
	case SOPSequence, SOPParallel, SOPAlternative:
		if len(n.Children) == 0 {
			return fmt.Errorf("%s sop node without children", n.Kind)
		}
		for _, c := range n.Children {
			if err := c.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown sop kind %q", n.Kind)
	}
	return nil
}

// SOPStruct is a named, installable SOP tree.
type SOPStruct struct {
	ID   string
	Root *SOPNode
}
