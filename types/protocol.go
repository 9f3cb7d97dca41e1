package types

import "fmt"

// -----------------------------------------------------------------------------
// InitiationMessage

// NewEmpty implements types.Message.
func (m InitiationMessage) NewEmpty() Message {
	return &InitiationMessage{}
}

// Name implements types.Message.
func (InitiationMessage) Name() string {
	return "initiation"
}

// String implements types.Message.
func (m InitiationMessage) String() string {
	return fmt.Sprintf("{initiation run %s dataset %s parties %v}", m.RunID, m.DatasetName, m.ParticipatingNodes)
}

// -----------------------------------------------------------------------------
// CountRoundMessage

// NewEmpty implements types.Message.
func (m CountRoundMessage) NewEmpty() Message {
	return &CountRoundMessage{}
}

// Name implements types.Message.
func (CountRoundMessage) Name() string {
	return "countround"
}

// String implements types.Message.
func (m CountRoundMessage) String() string {
	return fmt.Sprintf("{countround %s node %s attr %d round %d}", m.RoundID, m.NodePath, m.AttributeIndex, m.Round)
}

// -----------------------------------------------------------------------------
// SplitDecisionMessage

// NewEmpty implements types.Message.
func (m SplitDecisionMessage) NewEmpty() Message {
	return &SplitDecisionMessage{}
}

// Name implements types.Message.
func (SplitDecisionMessage) Name() string {
	return "splitdecision"
}

// String implements types.Message.
func (m SplitDecisionMessage) String() string {
	if m.Complete {
		return fmt.Sprintf("{splitdecision run %s complete}", m.RunID)
	}
	return fmt.Sprintf("{splitdecision node %s attr %d children %d}", m.NodePath, m.AttributeIndex, m.NumChildren)
}

// -----------------------------------------------------------------------------
// AckMessage

// NewEmpty implements types.Message.
func (m AckMessage) NewEmpty() Message {
	return &AckMessage{}
}

// Name implements types.Message.
func (AckMessage) Name() string {
	return "ack"
}

// String implements types.Message.
func (m AckMessage) String() string {
	return fmt.Sprintf("{ack for %s node %s}", m.AckedPacketID, m.NodePath)
}

// -----------------------------------------------------------------------------
// ErrorMessage

// NewEmpty implements types.Message.
func (m ErrorMessage) NewEmpty() Message {
	return &ErrorMessage{}
}

// Name implements types.Message.
func (ErrorMessage) Name() string {
	return "error"
}

// String implements types.Message.
func (m ErrorMessage) String() string {
	return fmt.Sprintf("{error %s node %s: %s}", m.Code, m.NodePath, m.Message)
}
