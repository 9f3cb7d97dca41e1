package types

// The protocol exchanges a fixed, closed set of messages:
// Initiation, CountRound, SplitDecision, Ack and Error. Every one of them is
// addressed point to point; the transport header carries source and
// destination node IDs.

// InitiationMessage is broadcast by the coordinator to every data party
// before any computation starts. It fixes the run identity, the ring order
// and the attribute partitioning for the whole run.
type InitiationMessage struct {
	RunID         string
	CoordinatorID string

	// ParticipatingNodes lists the data parties in ring order. The secure
	// sum state visits the parties in exactly this order.
	ParticipatingNodes []string

	// NodeAddresses maps a party ID to its listen address so each party can
	// dial its ring successor.
	NodeAddresses map[string]string

	DatasetName string

	// AttributePartitioning entries have the form "<csv-indices>:<partyId>",
	// e.g. "0,1,2:party1".
	AttributePartitioning []string

	// SchemaFingerprint is the blake2b fingerprint of the shared schema.
	// Parties refuse the run when their local schema disagrees.
	SchemaFingerprint string

	// Configuration carries run parameters. Recognized keys: "maxDepth",
	// "minInstances", "minGain".
	Configuration map[string]string
}

// CountRoundMessage carries the masked partial sums of one secure count
// round through the party ring. The coordinator initiates it with its mask
// already folded into PartialSums; each party adds its local counts and
// forwards it; the last party returns it to the coordinator.
type CountRoundMessage struct {
	RunID   string
	RoundID string

	// NodePath identifies the tree node whose row scope the counts are
	// computed over.
	NodePath string

	// AttributeIndex is the global index of the candidate attribute. When it
	// equals the class index the round yields the class distribution on the
	// matrix diagonal.
	AttributeIndex     int
	NumAttributeValues int
	NumClassValues     int

	// Round counts the hops taken so far, starting at 1 at the initiator.
	Round int

	// PartialSums holds the flattened attribute×class matrix of masked
	// partial sums, each encoded in decimal.
	PartialSums []string
}

// SplitDecisionMessage tells a party which attribute won a tree node's split
// and how to partition its retained rows. The coordinator first sends it to
// the winning attribute's owner without assignments; the owner answers with
// an Ack carrying the per-row child assignments, which the coordinator then
// rebroadcasts to the remaining parties.
type SplitDecisionMessage struct {
	RunID    string
	NodePath string

	AttributeIndex int
	NumChildren    int

	// RowAssignments maps each row of the node's scope, in ascending row
	// order, to a child index, or -1 when the value is out of range. Empty
	// on the owner-bound request.
	RowAssignments []int

	// Complete signals the end of the run: the tree is fully built and no
	// further rounds will follow.
	Complete bool
}

// AckMessage confirms receipt and successful processing of a message. A
// party also sends a bare Ack right after connecting to the coordinator to
// announce its identity.
type AckMessage struct {
	RunID string

	// AckedPacketID is the packet ID of the message being acknowledged, or
	// empty for the registration Ack.
	AckedPacketID string

	// Address is the sender's listen address, set only on the registration
	// Ack so the coordinator can hand it to the party's ring predecessor.
	Address string

	NodePath string

	// RowAssignments is populated only on the Ack answering an owner-bound
	// split decision.
	RowAssignments []int
}

// ErrorMessage reports a party-side failure to the coordinator. The
// coordinator aborts the computation of the branch named by NodePath.
type ErrorMessage struct {
	RunID    string
	NodePath string

	// RefID names the round ID or packet ID the party failed to process, so
	// the coordinator can unblock the waiting operation.
	RefID   string
	Code    string
	Message string
}
