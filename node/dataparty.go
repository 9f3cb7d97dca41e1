package node

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/privml/c50d/dataset"
	"github.com/privml/c50d/gain"
	"github.com/privml/c50d/securesum"
	"github.com/privml/c50d/transport"
	"github.com/privml/c50d/tree"
	"github.com/privml/c50d/types"
	"golang.org/x/xerrors"
)

// DefaultCoordinatorID is the node ID a party addresses before the
// initiation message reveals the coordinator's actual identity.
const DefaultCoordinatorID = "coordinator"

// Error codes reported to the coordinator.
const (
	codeProtocolSequence = "PROTOCOL_SEQUENCE"
	codeSchemaMismatch   = "SCHEMA_MISMATCH"
	codeDataFormat       = "DATA_FORMAT"
	codeInternal         = "INTERNAL"
)

// NewDataParty returns a data party node. The dataset is the party's local
// load of the shared table; the vertical partition it actually uses is
// extracted when the initiation message fixes the attribute partitioning.
func NewDataParty(id, address string, transp transport.Transport, coordinatorAddr string, ds *dataset.Dataset) *DataParty {
	p := &DataParty{
		baseNode:        newBaseNode(id),
		transp:          transp,
		address:         address,
		coordinatorAddr: coordinatorAddr,
		ds:              ds,
	}

	p.reg.RegisterMessageCallback(types.InitiationMessage{}, p.processInitiationMsg)
	p.reg.RegisterMessageCallback(types.CountRoundMessage{}, p.processCountRoundMsg)
	p.reg.RegisterMessageCallback(types.SplitDecisionMessage{}, p.processSplitDecisionMsg)

	return p
}

// DataParty holds one vertical partition and participates in count rounds
// and split decisions.
type DataParty struct {
	baseNode

	transp          transport.Transport
	address         string
	coordinatorAddr string
	ds              *dataset.Dataset

	mu  sync.RWMutex
	run *partyRun
}

// partyRun is the state of the active run.
type partyRun struct {
	runID         string
	coordinatorID string
	ring          []string
	ringIndex     int
	nextHop       string
	engine        *securesum.Engine
	partition     *dataset.Partition
	scopes        map[string][]int
}

// Start binds the listening socket, connects to the coordinator with the
// transport's retry budget and registers.
func (p *DataParty) Start() error {
	sock, err := p.transp.CreateSocket(p.address)
	if err != nil {
		p.state.set(Failed)
		return err
	}
	p.sock = sock
	p.state.set(Listening)
	log.Info().Msgf("%s: data party listening on %s", p.id, sock.GetAddress())

	go p.acceptLoop()

	p.state.set(Connecting)
	conn, err := sock.Dial(p.coordinatorAddr)
	if err != nil {
		p.state.set(Failed)
		p.Stop()
		return err
	}

	peer := &PeerConn{ID: DefaultCoordinatorID, conn: conn}
	p.conns.add(peer)

	// Register: a bare Ack carrying this party's listen address.
	_, err = p.send(DefaultCoordinatorID, types.AckMessage{Address: sock.GetAddress()})
	if err != nil {
		p.state.set(Failed)
		p.Stop()
		return err
	}

	p.state.set(Listening)
	go p.serveConn(peer)
	return nil
}

// Address returns the bound listen address.
func (p *DataParty) Address() string {
	return p.sock.GetAddress()
}

// Stop shuts the party down, closing the listening socket and every held
// connection.
func (p *DataParty) Stop() error {
	p.cancel()
	p.state.set(Stopped)
	p.conns.closeAll()
	if p.sock != nil {
		return p.sock.Close()
	}
	return nil
}

// acceptLoop serves inbound connections: the ring predecessor's hand-off
// channel arrives here.
func (p *DataParty) acceptLoop() {
	for p.running() {
		conn, err := p.sock.Accept()
		if err != nil {
			if p.running() {
				log.Warn().Msgf("%s: accept failed: %v", p.id, err)
			}
			return
		}
		go p.serveConn(&PeerConn{ID: conn.RemoteAddress(), conn: conn})
	}
}

func (p *DataParty) activeRun() (*partyRun, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.run == nil {
		return nil, xerrors.Errorf("%w: no active run", ErrProtocolSequence)
	}
	return p.run, nil
}

// Count rounds arrive from the ring predecessor and split decisions from the
// coordinator, on separate connections, so scope accesses are locked.
func (p *DataParty) scopeRows(run *partyRun, path string) ([]int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rows, ok := run.scopes[path]
	return rows, ok
}

func (p *DataParty) setScope(run *partyRun, path string, rows []int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	run.scopes[path] = rows
}

// sendError reports a failure back to the coordinator. Best effort: if the
// coordinator is gone there is nobody left to tell.
func (p *DataParty) sendError(run *partyRun, path, refID, code string, cause error) {
	log.Error().Msgf("%s: %s at %s: %v", p.id, code, path, cause)
	if run == nil {
		return
	}
	_, err := p.send(run.coordinatorID, types.ErrorMessage{
		RunID:    run.runID,
		NodePath: path,
		RefID:    refID,
		Code:     code,
		Message:  cause.Error(),
	})
	if err != nil {
		log.Warn().Msgf("%s: could not report error to coordinator: %v", p.id, err)
	}
}

func (p *DataParty) ack(run *partyRun, pkt transport.Packet, path string, assignments []int) error {
	_, err := p.send(run.coordinatorID, types.AckMessage{
		RunID:          run.runID,
		AckedPacketID:  pkt.Header.PacketID,
		NodePath:       path,
		RowAssignments: assignments,
	})
	return err
}

// processInitiationMsg fixes the run parameters, extracts the party's
// vertical partition and dials the ring successor.
func (p *DataParty) processInitiationMsg(msg types.Message, pkt transport.Packet) error {
	init, ok := msg.(*types.InitiationMessage)
	if !ok {
		return xerrors.Errorf("wrong type: %T", msg)
	}

	err := p.state.require(Listening, TreeComplete)
	if err != nil {
		return err
	}

	// The coordinator's identity is authoritative from here on.
	if init.CoordinatorID != DefaultCoordinatorID {
		if peer, ok := p.conns.get(DefaultCoordinatorID); ok {
			p.conns.remove(DefaultCoordinatorID)
			peer.ID = init.CoordinatorID
			p.conns.add(peer)
		}
	}

	run := &partyRun{
		runID:         init.RunID,
		coordinatorID: init.CoordinatorID,
		ring:          init.ParticipatingNodes,
		ringIndex:     -1,
		scopes:        map[string][]int{},
	}

	fingerprint := dataset.Fingerprint(p.ds.Attributes, p.ds.ClassIndex, p.ds.NumRows())
	if fingerprint != init.SchemaFingerprint {
		err := xerrors.Errorf("local schema does not match run %s", init.RunID)
		p.sendError(run, "", pkt.Header.PacketID, codeSchemaMismatch, err)
		return err
	}

	partitioning, err := dataset.ParsePartitioning(init.AttributePartitioning)
	if err != nil {
		p.sendError(run, "", pkt.Header.PacketID, codeDataFormat, err)
		return err
	}
	indexes, ok := partitioning[p.id]
	if !ok {
		err := xerrors.Errorf("%w: run %s assigns this party no attributes", ErrProtocolSequence, init.RunID)
		p.sendError(run, "", pkt.Header.PacketID, codeProtocolSequence, err)
		return err
	}
	run.partition, err = dataset.VerticalPartition(p.ds, p.id, indexes)
	if err != nil {
		p.sendError(run, "", pkt.Header.PacketID, codeDataFormat, err)
		return err
	}

	for i, id := range run.ring {
		if id == p.id {
			run.ringIndex = i
		}
	}
	if run.ringIndex < 0 {
		err := xerrors.Errorf("%w: this party is not in the ring of run %s", ErrProtocolSequence, init.RunID)
		p.sendError(run, "", pkt.Header.PacketID, codeProtocolSequence, err)
		return err
	}

	// The secure sum state travels coordinator → ring... → coordinator; the
	// last party hands back to the coordinator.
	if run.ringIndex+1 < len(run.ring) {
		successor := run.ring[run.ringIndex+1]
		addr, ok := init.NodeAddresses[successor]
		if !ok {
			err := xerrors.Errorf("no address for ring successor %s", successor)
			p.sendError(run, "", pkt.Header.PacketID, codeProtocolSequence, err)
			return err
		}
		if _, ok := p.conns.get(successor); !ok {
			conn, err := p.sock.Dial(addr)
			if err != nil {
				p.sendError(run, "", pkt.Header.PacketID, codeInternal, err)
				return err
			}
			p.conns.add(&PeerConn{ID: successor, conn: conn})
		}
		run.nextHop = successor
	} else {
		run.nextHop = run.coordinatorID
	}

	all := make([]int, p.ds.NumRows())
	for i := range all {
		all[i] = i
	}
	run.scopes[tree.RootPath] = all

	run.engine = securesum.NewEngine(len(run.ring) + 1)
	if !run.engine.Private() {
		log.Warn().Msgf("%s: run %s has a ring of %d including the coordinator: contributions are recoverable below %d",
			p.id, init.RunID, run.engine.NumParties(), securesum.MinPrivateParties)
	}

	p.mu.Lock()
	p.run = run
	p.mu.Unlock()
	p.state.set(RoundActive)

	log.Info().Msgf("%s: joined run %s for dataset %s, ring position %d",
		p.id, init.RunID, init.DatasetName, run.ringIndex)
	return p.ack(run, pkt, "", nil)
}

// localCounts tallies this party's contribution to one count round. A party
// holding only one side of the attribute×class pair cannot form joint
// counts and contributes zeros.
func (p *DataParty) localCounts(run *partyRun, round *types.CountRoundMessage, rows []int) ([]int64, error) {
	if !run.partition.Holds(round.AttributeIndex) || !run.partition.HasClass {
		return nil, nil
	}

	attrColumn := run.partition.Columns[round.AttributeIndex]
	classColumn := run.partition.Columns[run.partition.ClassIndex]

	attrValues := make([]int, len(rows))
	classValues := make([]int, len(rows))
	for i, r := range rows {
		attrValues[i] = attrColumn[r]
		classValues[i] = classColumn[r]
	}

	counts, err := gain.LocalCounts(attrValues, classValues,
		round.NumAttributeValues, round.NumClassValues)
	if err != nil {
		return nil, err
	}
	return gain.Flatten(counts), nil
}

// processCountRoundMsg adds the party's masked contribution and forwards the
// state along the ring.
func (p *DataParty) processCountRoundMsg(msg types.Message, pkt transport.Packet) error {
	round, ok := msg.(*types.CountRoundMessage)
	if !ok {
		return xerrors.Errorf("wrong type: %T", msg)
	}

	run, err := p.activeRun()
	if err != nil {
		return err
	}
	if round.RunID != run.runID {
		return xerrors.Errorf("%w: count round for unknown run %s", ErrProtocolSequence, round.RunID)
	}
	err = p.state.require(RoundActive)
	if err != nil {
		p.sendError(run, round.NodePath, round.RoundID, codeProtocolSequence, err)
		return err
	}

	// The state must arrive in ring order: the coordinator starts at round
	// 1, the i-th party receives round i+1.
	if round.Round != run.ringIndex+1 {
		err := xerrors.Errorf("%w: round %d arrived at ring position %d",
			ErrProtocolSequence, round.Round, run.ringIndex)
		p.sendError(run, round.NodePath, round.RoundID, codeProtocolSequence, err)
		return err
	}

	rows, ok := p.scopeRows(run, round.NodePath)
	if !ok {
		err := xerrors.Errorf("%w: unknown row scope %q", ErrProtocolSequence, round.NodePath)
		p.sendError(run, round.NodePath, round.RoundID, codeProtocolSequence, err)
		return err
	}

	locals, err := p.localCounts(run, round, rows)
	if err != nil {
		p.sendError(run, round.NodePath, round.RoundID, codeSchemaMismatch, err)
		return err
	}

	state, err := securesum.VectorFromWire(round.PartialSums, round.Round)
	if err != nil {
		p.sendError(run, round.NodePath, round.RoundID, codeDataFormat, err)
		return err
	}
	state = run.engine.ParticipateVector(state, locals)

	forward := types.CountRoundMessage{
		RunID:              round.RunID,
		RoundID:            round.RoundID,
		NodePath:           round.NodePath,
		AttributeIndex:     round.AttributeIndex,
		NumAttributeValues: round.NumAttributeValues,
		NumClassValues:     round.NumClassValues,
		Round:              state.Round(),
		PartialSums:        state.WirePartials(),
	}
	_, err = p.send(run.nextHop, forward)
	if err != nil {
		p.sendError(run, round.NodePath, round.RoundID, codeInternal, err)
		return err
	}
	return nil
}

// processSplitDecisionMsg partitions the party's retained rows for the next
// recursion level, or finishes the run.
func (p *DataParty) processSplitDecisionMsg(msg types.Message, pkt transport.Packet) error {
	decision, ok := msg.(*types.SplitDecisionMessage)
	if !ok {
		return xerrors.Errorf("wrong type: %T", msg)
	}

	run, err := p.activeRun()
	if err != nil {
		return err
	}
	if decision.RunID != run.runID {
		return xerrors.Errorf("%w: split decision for unknown run %s", ErrProtocolSequence, decision.RunID)
	}
	err = p.state.require(RoundActive)
	if err != nil {
		p.sendError(run, decision.NodePath, pkt.Header.PacketID, codeProtocolSequence, err)
		return err
	}

	if decision.Complete {
		p.state.set(TreeComplete)
		log.Info().Msgf("%s: run %s complete", p.id, run.runID)
		return p.ack(run, pkt, "", nil)
	}

	rows, ok := p.scopeRows(run, decision.NodePath)
	if !ok {
		err := xerrors.Errorf("%w: unknown row scope %q", ErrProtocolSequence, decision.NodePath)
		p.sendError(run, decision.NodePath, pkt.Header.PacketID, codeProtocolSequence, err)
		return err
	}

	assignments := decision.RowAssignments
	if len(assignments) == 0 {
		// Owner-bound request: derive the assignments from the local column.
		if !run.partition.Holds(decision.AttributeIndex) {
			err := xerrors.Errorf("%w: split on attribute %d this party does not hold",
				ErrProtocolSequence, decision.AttributeIndex)
			p.sendError(run, decision.NodePath, pkt.Header.PacketID, codeProtocolSequence, err)
			return err
		}
		column := run.partition.Columns[decision.AttributeIndex]
		assignments = make([]int, len(rows))
		for i, r := range rows {
			value := column[r]
			if value >= 0 && value < decision.NumChildren {
				assignments[i] = value
			} else {
				assignments[i] = -1
			}
		}
	} else if len(assignments) != len(rows) {
		err := xerrors.Errorf("%w: %d assignments for %d scoped rows",
			ErrProtocolSequence, len(assignments), len(rows))
		p.sendError(run, decision.NodePath, pkt.Header.PacketID, codeProtocolSequence, err)
		return err
	}

	// Scoped rows are kept in ascending row order on every party, so the
	// positional assignments line up ring-wide.
	children := make([][]int, decision.NumChildren)
	for i, child := range assignments {
		if child >= 0 && child < decision.NumChildren {
			children[child] = append(children[child], rows[i])
		}
	}
	for value, childRows := range children {
		p.setScope(run, tree.ChildPath(decision.NodePath, value), childRows)
	}

	return p.ack(run, pkt, decision.NodePath, assignments)
}
