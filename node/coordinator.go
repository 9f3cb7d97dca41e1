package node

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	"github.com/privml/c50d/dataset"
	"github.com/privml/c50d/gain"
	"github.com/privml/c50d/securesum"
	"github.com/privml/c50d/transport"
	"github.com/privml/c50d/tree"
	"github.com/privml/c50d/types"
	"golang.org/x/xerrors"
)

// RunConfig describes one tree-building run: the shared schema, the
// attribute partitioning, the ring order and the stopping parameters.
type RunConfig struct {
	DatasetName string
	Attributes  []dataset.AttributeMetadata
	ClassIndex  int
	NumRows     int

	// Ring lists the data parties in ring order.
	Ring []string

	// Partitioning maps a party ID to the global indexes of the attributes
	// it holds.
	Partitioning map[string][]int

	Tree tree.Config

	// ConnectTimeout bounds the wait for ring parties to register. Zero
	// means RoundTimeout.
	ConnectTimeout time.Duration
}

// NewCoordinator returns a coordinator node listening on the given address
// once started.
func NewCoordinator(id, address string, transp transport.Transport) *Coordinator {
	c := &Coordinator{
		baseNode:  newBaseNode(id),
		transp:    transp,
		address:   address,
		pending:   newPendingTable(),
		addresses: map[string]string{},
		connected: make(chan string, 16),
	}

	c.reg.RegisterMessageCallback(types.CountRoundMessage{}, c.processCountRoundMsg)
	c.reg.RegisterMessageCallback(types.AckMessage{}, c.processAckMsg)
	c.reg.RegisterMessageCallback(types.ErrorMessage{}, c.processErrorMsg)

	return c
}

// Coordinator accepts one persistent connection per data party, drives the
// count rounds and split decisions of a run, and assembles the final tree.
type Coordinator struct {
	baseNode

	transp  transport.Transport
	address string

	pending   *pendingTable
	addresses map[string]string // party ID → listen address, guarded by conns mutex
	connected chan string

	run    *RunConfig
	runID  string
	engine *securesum.Engine
	tree   *tree.Node
}

// Start binds the listening socket and begins accepting party connections.
func (c *Coordinator) Start() error {
	sock, err := c.transp.CreateSocket(c.address)
	if err != nil {
		c.state.set(Failed)
		return err
	}
	c.sock = sock
	c.state.set(Listening)
	log.Info().Msgf("%s: coordinator listening on %s", c.id, sock.GetAddress())

	go c.acceptLoop()
	return nil
}

// Address returns the bound listen address.
func (c *Coordinator) Address() string {
	return c.sock.GetAddress()
}

// Tree returns the tree assembled by the last completed run.
func (c *Coordinator) Tree() *tree.Node {
	return c.tree
}

// Stop shuts the coordinator down: the listening socket and all party
// connections are closed, in-flight rounds fail as branch errors.
func (c *Coordinator) Stop() error {
	c.cancel()
	c.state.set(Stopped)
	c.conns.closeAll()
	if c.sock != nil {
		return c.sock.Close()
	}
	return nil
}

func (c *Coordinator) acceptLoop() {
	for c.running() {
		conn, err := c.sock.Accept()
		if err != nil {
			if c.running() {
				log.Warn().Msgf("%s: accept failed: %v", c.id, err)
			}
			return
		}
		go c.handleInbound(conn)
	}
}

// handleInbound performs the registration handshake: the first packet on a
// party's connection must be a bare Ack announcing its identity and listen
// address.
func (c *Coordinator) handleInbound(conn transport.Conn) {
	pkt, err := conn.Recv(RoundTimeout)
	if err != nil {
		log.Warn().Msgf("%s: inbound connection died before registering: %v", c.id, err)
		conn.Close()
		return
	}
	if pkt.Msg.Type != (types.AckMessage{}).Name() {
		log.Error().Msgf("%s: expected registration ack, got %s", c.id, pkt.Msg.Type)
		conn.Close()
		return
	}

	partyID := pkt.Header.Source
	peer := &PeerConn{ID: partyID, conn: conn}
	c.conns.add(peer)

	// The registration payload carries the party's own listen address.
	err = c.reg.ProcessPacket(pkt)
	if err != nil {
		log.Warn().Msgf("%s: bad registration from %s: %v", c.id, partyID, err)
	}

	log.Info().Msgf("%s: party %s connected", c.id, partyID)
	select {
	case c.connected <- partyID:
	default:
	}

	c.serveConn(peer)
}

// waitForParties blocks until every ring party has registered.
func (c *Coordinator) waitForParties(ring []string, timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		missing := 0
		for _, id := range ring {
			if _, ok := c.conns.get(id); !ok {
				missing++
			}
		}
		if missing == 0 {
			return nil
		}

		select {
		case <-c.connected:
		case <-deadline:
			return transport.ConnectivityError{Op: "accept", Addr: c.Address(),
				Err: xerrors.Errorf("%d of %d parties never connected", missing, len(ring))}
		case <-c.ctx.Done():
			return xerrors.Errorf("coordinator stopped")
		}
	}
}

// Run drives one full tree-building run and returns the assembled tree. It
// blocks until every registered party is connected, broadcasts the
// initiation, grows the tree through secure count rounds and split
// decisions, and finally signals completion to every party.
func (c *Coordinator) Run(cfg RunConfig) (*tree.Node, error) {
	err := c.state.require(Listening, TreeComplete)
	if err != nil {
		return nil, err
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = RoundTimeout
	}
	err = c.waitForParties(cfg.Ring, connectTimeout)
	if err != nil {
		return nil, err
	}
	c.state.set(ConnectedToAllParties)

	c.run = &cfg
	c.runID = uuid.NewString()
	// The coordinator initiates every sum, so the ring size includes it.
	c.engine = securesum.NewEngine(len(cfg.Ring) + 1)
	if !c.engine.Private() {
		log.Warn().Msgf("%s: ring of %d including this node: secure sum gives no privacy below %d",
			c.id, c.engine.NumParties(), securesum.MinPrivateParties)
	}

	err = c.broadcastInitiation(cfg)
	if err != nil {
		c.state.set(Failed)
		return nil, err
	}
	c.state.set(RoundActive)

	builder := tree.NewBuilder(cfg.Tree, cfg.Attributes, cfg.ClassIndex, &ringView{c: c})
	root, err := builder.Build()
	if err != nil {
		c.state.set(Failed)
		return nil, err
	}

	err = c.broadcastCompletion()
	if err != nil {
		c.state.set(Failed)
		return nil, err
	}

	c.tree = root
	c.state.set(TreeComplete)
	log.Info().Msgf("%s: run %s complete", c.id, c.runID)
	return root, nil
}

func (c *Coordinator) broadcastInitiation(cfg RunConfig) error {
	addresses := make(map[string]string, len(cfg.Ring))
	c.conns.RLock()
	for id, addr := range c.addresses {
		addresses[id] = addr
	}
	c.conns.RUnlock()

	assignment := make([][]int, len(cfg.Ring))
	for i, id := range cfg.Ring {
		assignment[i] = cfg.Partitioning[id]
	}
	partitioning := dataset.FormatPartitioning(cfg.Ring, assignment)

	msg := types.InitiationMessage{
		RunID:                 c.runID,
		CoordinatorID:         c.id,
		ParticipatingNodes:    cfg.Ring,
		NodeAddresses:         addresses,
		DatasetName:           cfg.DatasetName,
		AttributePartitioning: partitioning,
		SchemaFingerprint:     dataset.Fingerprint(cfg.Attributes, cfg.ClassIndex, cfg.NumRows),
		Configuration:         cfg.Tree.Wire(),
	}

	for _, partyID := range cfg.Ring {
		_, err := c.sendAcked(partyID, msg)
		if err != nil {
			return xerrors.Errorf("initiation rejected by %s: %w", partyID, err)
		}
	}
	return nil
}

func (c *Coordinator) broadcastCompletion() error {
	msg := types.SplitDecisionMessage{RunID: c.runID, Complete: true}
	for _, partyID := range c.run.Ring {
		_, err := c.sendAcked(partyID, msg)
		if err != nil {
			return xerrors.Errorf("completion not acknowledged by %s: %w", partyID, err)
		}
	}
	return nil
}

// sendAcked sends a message and blocks until the matching Ack (or Error)
// arrives.
func (c *Coordinator) sendAcked(dest string, msg types.Message) (*types.AckMessage, error) {
	peer, ok := c.conns.get(dest)
	if !ok {
		return nil, xerrors.Errorf("party %s is unreachable", dest)
	}

	m, err := c.reg.MarshalMessage(msg)
	if err != nil {
		return nil, err
	}
	header := transport.NewHeader(c.id, dest)
	pkt := transport.Packet{Header: &header, Msg: &m}

	ch := c.pending.expect(header.PacketID)
	err = peer.send(pkt)
	if err != nil {
		c.pending.cancel(header.PacketID)
		return nil, err
	}

	reply, err := c.await(ch, header.PacketID)
	if err != nil {
		return nil, err
	}
	ack, ok := reply.(*types.AckMessage)
	if !ok {
		return nil, xerrors.Errorf("%w: expected ack from %s, got %s", ErrProtocolSequence, dest, reply.Name())
	}
	return ack, nil
}

// await blocks on a pending reply, converting Error messages and timeouts
// into branch failures.
func (c *Coordinator) await(ch chan types.Message, key string) (types.Message, error) {
	select {
	case reply := <-ch:
		if errMsg, ok := reply.(*types.ErrorMessage); ok {
			return nil, xerrors.Errorf("party reported %s: %s", errMsg.Code, errMsg.Message)
		}
		return reply, nil
	case <-time.After(RoundTimeout):
		c.pending.cancel(key)
		return nil, xerrors.Errorf("no reply for %s: %w", key, transport.TimeoutError(RoundTimeout))
	case <-c.ctx.Done():
		c.pending.cancel(key)
		return nil, xerrors.Errorf("coordinator stopped")
	}
}

// countRound runs one batched secure sum over the attribute×class matrix of
// the given attribute, across the full ring, and returns the global counts.
// Concurrent rounds are safe: each is keyed by its own round ID and sends on
// a connection are serialized.
func (c *Coordinator) countRound(path string, attrIndex int) ([][]int64, error) {
	numAttrValues := c.run.Attributes[attrIndex].NumValues()
	numClassValues := c.run.Attributes[c.run.ClassIndex].NumValues()

	// The coordinator holds no data: it contributes zeros and its mask.
	initial, err := c.engine.InitiateVector(nil, numAttrValues*numClassValues)
	if err != nil {
		return nil, err
	}

	roundID := xid.New().String()
	msg := types.CountRoundMessage{
		RunID:              c.runID,
		RoundID:            roundID,
		NodePath:           path,
		AttributeIndex:     attrIndex,
		NumAttributeValues: numAttrValues,
		NumClassValues:     numClassValues,
		Round:              initial.Round(),
		PartialSums:        initial.WirePartials(),
	}

	ch := c.pending.expect(roundID)
	_, err = c.send(c.run.Ring[0], msg)
	if err != nil {
		c.pending.cancel(roundID)
		return nil, err
	}

	reply, err := c.await(ch, roundID)
	if err != nil {
		return nil, err
	}
	final, ok := reply.(*types.CountRoundMessage)
	if !ok {
		return nil, xerrors.Errorf("%w: expected count round reply, got %s", ErrProtocolSequence, reply.Name())
	}

	state, err := securesum.VectorFromWire(final.PartialSums, final.Round)
	if err != nil {
		return nil, err
	}
	state, err = state.Rebind(initial)
	if err != nil {
		return nil, err
	}
	sums, err := c.engine.FinalizeVector(state)
	if err != nil {
		return nil, err
	}
	return gain.Unflatten(sums, numAttrValues, numClassValues)
}

// splitRound broadcasts a split decision. The winning attribute's owner goes
// first and returns the per-row child assignments; the remaining parties
// receive the decision with the assignments attached.
func (c *Coordinator) splitRound(path string, attrIndex int) ([]int, error) {
	numChildren := c.run.Attributes[attrIndex].NumValues()
	owner := dataset.Owner(c.run.Partitioning, attrIndex)
	if owner == "" {
		return nil, xerrors.Errorf("attribute %d is not assigned to any party", attrIndex)
	}

	ack, err := c.sendAcked(owner, types.SplitDecisionMessage{
		RunID:          c.runID,
		NodePath:       path,
		AttributeIndex: attrIndex,
		NumChildren:    numChildren,
	})
	if err != nil {
		return nil, xerrors.Errorf("split on %s at %s failed: %w", owner, path, err)
	}

	decision := types.SplitDecisionMessage{
		RunID:          c.runID,
		NodePath:       path,
		AttributeIndex: attrIndex,
		NumChildren:    numChildren,
		RowAssignments: ack.RowAssignments,
	}
	for _, partyID := range c.run.Ring {
		if partyID == owner {
			continue
		}
		_, err := c.sendAcked(partyID, decision)
		if err != nil {
			return nil, xerrors.Errorf("split broadcast to %s at %s failed: %w", partyID, path, err)
		}
	}

	counts := make([]int, numChildren)
	for _, child := range ack.RowAssignments {
		if child >= 0 && child < numChildren {
			counts[child]++
		}
	}
	return counts, nil
}

// processCountRoundMsg handles the masked state coming back from the last
// ring party.
func (c *Coordinator) processCountRoundMsg(msg types.Message, pkt transport.Packet) error {
	round, ok := msg.(*types.CountRoundMessage)
	if !ok {
		return xerrors.Errorf("wrong type: %T", msg)
	}
	if round.RunID != c.runID {
		return xerrors.Errorf("%w: count round for unknown run %s", ErrProtocolSequence, round.RunID)
	}
	if !c.pending.deliver(round.RoundID, round) {
		return xerrors.Errorf("%w: unexpected count round %s", ErrProtocolSequence, round.RoundID)
	}
	return nil
}

func (c *Coordinator) processAckMsg(msg types.Message, pkt transport.Packet) error {
	ack, ok := msg.(*types.AckMessage)
	if !ok {
		return xerrors.Errorf("wrong type: %T", msg)
	}

	if ack.AckedPacketID == "" {
		// Registration: remember the party's listen address for the ring.
		c.conns.Lock()
		c.addresses[pkt.Header.Source] = ack.Address
		c.conns.Unlock()
		return nil
	}

	c.pending.deliver(ack.AckedPacketID, ack)
	return nil
}

// processErrorMsg unblocks the operation the party failed on and logs the
// branch failure.
func (c *Coordinator) processErrorMsg(msg types.Message, pkt transport.Packet) error {
	errMsg, ok := msg.(*types.ErrorMessage)
	if !ok {
		return xerrors.Errorf("wrong type: %T", msg)
	}

	log.Error().Msgf("%s: party %s failed at %s: %s: %s",
		c.id, pkt.Header.Source, errMsg.NodePath, errMsg.Code, errMsg.Message)
	if errMsg.RefID != "" {
		c.pending.deliver(errMsg.RefID, errMsg)
	}
	return nil
}

// ringView adapts the coordinator's rounds to the builder's DataView.
//
// - implements tree.DataView
type ringView struct {
	c *Coordinator
}

// ClassDistribution implements tree.DataView. Counting the class against
// itself puts the class distribution on the matrix diagonal.
func (v *ringView) ClassDistribution(path string) ([]int64, error) {
	counts, err := v.c.countRound(path, v.c.run.ClassIndex)
	if err != nil {
		return nil, err
	}
	distribution := make([]int64, len(counts))
	for i := range counts {
		distribution[i] = counts[i][i]
	}
	return distribution, nil
}

// AttributeCounts implements tree.DataView
func (v *ringView) AttributeCounts(path string, attrIndex int) ([][]int64, error) {
	return v.c.countRound(path, attrIndex)
}

// Split implements tree.DataView
func (v *ringView) Split(path string, attrIndex int) ([]int, error) {
	return v.c.splitRound(path, attrIndex)
}
