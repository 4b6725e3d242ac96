// Package store is the crash-safe persistence layer: one flat file per
// durable artifact, written with a temp-write/fsync/rename discipline so
// a crash mid-commit never leaves a file half-written, plus a secondary,
// rebuildable index for fast duplicate-transaction lookups. The canonical
// in-memory/on-disk representation is paired with a Badger instance used
// purely as an index, never as the source of truth.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger"
	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tendergraph-io/node/common"
	"github.com/tendergraph-io/node/types"
)

const (
	blocksDir = "blocks"
	stateDir  = "state"
	metaDir   = "meta"
	indexDir  = "index"

	latestStateFile = "latest.state"
	roundStateFile  = "round_state.json"
	chainMetaFile   = "chain.meta"
)

// DefaultSnapshotInterval is used by Open when called with snapshotInterval
// 0, so tests and call sites that do not care about snapshot cadence do not
// need to spell out a value.
const DefaultSnapshotInterval = 100

// Store owns every durable artifact a node produces. All writes go through
// writeAtomic; nothing is ever truncated-and-rewritten in place.
type Store struct {
	dataDir          string
	snapshotInterval uint64
	index            *badger.DB
	logger           *logrus.Entry
}

// Open prepares dataDir's subdirectories and opens the secondary Badger
// index, creating dataDir if it does not already exist. snapshotInterval is
// how often (in blocks) Commit also writes a full state snapshot, bounding
// how many blocks Recover must replay; 0 falls back to
// DefaultSnapshotInterval.
func Open(dataDir string, snapshotInterval uint64, logger *logrus.Entry) (*Store, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	if snapshotInterval == 0 {
		snapshotInterval = DefaultSnapshotInterval
	}

	for _, d := range []string{blocksDir, stateDir, metaDir, indexDir} {
		if err := os.MkdirAll(filepath.Join(dataDir, d), 0755); err != nil {
			return nil, errors.Wrapf(err, "creating %s", d)
		}
	}

	opts := badger.DefaultOptions(filepath.Join(dataDir, indexDir))
	opts.ValueDir = opts.Dir
	opts.SyncWrites = false
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening replay index")
	}

	return &Store{dataDir: dataDir, snapshotInterval: snapshotInterval, index: db, logger: logger}, nil
}

// Close releases the secondary index's file handles.
func (s *Store) Close() error {
	return s.index.Close()
}

func (s *Store) blockPath(height uint64) string {
	return filepath.Join(s.dataDir, blocksDir, fmt.Sprintf("%06d.block", height))
}

func (s *Store) snapshotPath(height uint64) string {
	return filepath.Join(s.dataDir, stateDir, fmt.Sprintf("snapshot_%d.state", height))
}

func (s *Store) latestStatePath() string {
	return filepath.Join(s.dataDir, stateDir, latestStateFile)
}

func (s *Store) roundStatePath() string {
	return filepath.Join(s.dataDir, stateDir, roundStateFile)
}

func (s *Store) finalityPath(height uint64) string {
	return filepath.Join(s.dataDir, stateDir, fmt.Sprintf("finality_%d.json", height))
}

func (s *Store) chainMetaPath() string {
	return filepath.Join(s.dataDir, metaDir, chainMetaFile)
}

// writeAtomic writes data to path via a temp file, fsync, then rename —
// the discipline required for every durable artifact.
// github.com/google/renameio/v2 provides exactly this primitive so Store
// never hand-rolls TempFile/Sync/Rename itself.
func writeAtomic(path string, data []byte) error {
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return common.NewTypedErr(common.FsyncFailure, err.Error())
	}
	return nil
}

// ChainMeta is the canonical text artifact at meta/chain.meta.
type ChainMeta struct {
	ChainID      string     `json:"chain_id"`
	GenesisHash  types.Hash `json:"genesis_hash"`
	LatestHeight uint64     `json:"latest_height"`
}

// finalityDoc is the JSON shape persisted at state/finality_{h}.json: the
// certificate plus enough of the block to reconstruct it without
// re-deriving transactions from the block file during a quick read.
type finalityDoc struct {
	Height    uint64         `json:"height"`
	BlockHash types.Hash     `json:"block_hash"`
	Commits   []commitDoc    `json:"commits"`
}

type commitDoc struct {
	Round     uint32             `json:"round"`
	Validator types.ValidatorID  `json:"validator"`
	Signature [64]byte           `json:"signature"`
}

func toFinalityDoc(cert types.FinalityCertificate) finalityDoc {
	commits := make([]commitDoc, len(cert.Commits))
	for i, c := range cert.Commits {
		commits[i] = commitDoc{Round: c.Round, Validator: c.Validator, Signature: c.Signature}
	}
	return finalityDoc{Height: cert.Height, BlockHash: cert.BlockHash, Commits: commits}
}

func fromFinalityDoc(d finalityDoc) types.FinalityCertificate {
	commits := make([]types.Commit, len(d.Commits))
	for i, c := range d.Commits {
		commits[i] = types.Commit{
			Height:    d.Height,
			Round:     c.Round,
			BlockHash: d.BlockHash,
			Validator: c.Validator,
			Signature: c.Signature,
		}
	}
	return types.FinalityCertificate{Height: d.Height, BlockHash: d.BlockHash, Commits: commits}
}

// RoundState is the minimal in-flight round information persisted so a
// restarted node can resume mid-height rather than re-running consensus
// for the current height from round 0.
type RoundState struct {
	Height      uint64      `json:"height"`
	Round       uint32      `json:"round"`
	LockedRound int32       `json:"locked_round"`
	LockedHash  *types.Hash `json:"locked_hash,omitempty"`
}

// Commit performs the ordered, fsync-gated write sequence: block -> fsync
// -> state -> fsync -> finality -> fsync -> chain.meta -> fsync. Each
// writeAtomic call fsyncs before renaming; if any
// step fails the remainder is skipped and the caller's process is expected
// to halt (FsyncFailure is fatal, common.ErrKind.IsFatal).
func (s *Store) Commit(block types.Block, state *types.State, cert types.FinalityCertificate) error {
	if err := writeAtomic(s.blockPath(block.Height), block.Encode()); err != nil {
		return errors.Wrapf(err, "writing block %d", block.Height)
	}

	if err := writeAtomic(s.latestStatePath(), state.Encode()); err != nil {
		return errors.Wrapf(err, "writing state at height %d", block.Height)
	}
	if block.Height%s.snapshotInterval == 0 {
		if err := writeAtomic(s.snapshotPath(block.Height), state.Encode()); err != nil {
			return errors.Wrapf(err, "writing snapshot at height %d", block.Height)
		}
	}

	finalityBytes, err := json.Marshal(toFinalityDoc(cert))
	if err != nil {
		return errors.Wrap(err, "encoding finality certificate")
	}
	if err := writeAtomic(s.finalityPath(block.Height), finalityBytes); err != nil {
		return errors.Wrapf(err, "writing finality certificate %d", block.Height)
	}

	meta := ChainMeta{LatestHeight: block.Height}
	if existing, err := s.ReadChainMeta(); err == nil {
		meta.ChainID = existing.ChainID
		meta.GenesisHash = existing.GenesisHash
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "encoding chain metadata")
	}
	if err := writeAtomic(s.chainMetaPath(), metaBytes); err != nil {
		return errors.Wrapf(err, "writing chain metadata at height %d", block.Height)
	}

	s.indexBlock(block)

	s.logger.WithFields(logrus.Fields{"height": block.Height, "hash": block.Hash().Hex()}).Info("committed block to store")

	return nil
}

// FastForward persists a state-sync checkpoint at height without a block
// body: the snapshot, the finality certificate that justifies height, and
// an advanced chain.meta. Used when a node that fell far behind adopts a
// peer's state directly instead of replaying every intervening block; the
// skipped heights have no block file and Recover treats the checkpoint
// itself as the recoverable frontier.
func (s *Store) FastForward(height uint64, state *types.State, cert types.FinalityCertificate) error {
	if err := writeAtomic(s.latestStatePath(), state.Encode()); err != nil {
		return errors.Wrapf(err, "writing state at height %d", height)
	}
	if err := writeAtomic(s.snapshotPath(height), state.Encode()); err != nil {
		return errors.Wrapf(err, "writing fast-forward snapshot at height %d", height)
	}

	finalityBytes, err := json.Marshal(toFinalityDoc(cert))
	if err != nil {
		return errors.Wrap(err, "encoding finality certificate")
	}
	if err := writeAtomic(s.finalityPath(height), finalityBytes); err != nil {
		return errors.Wrapf(err, "writing finality certificate %d", height)
	}

	meta := ChainMeta{LatestHeight: height}
	if existing, err := s.ReadChainMeta(); err == nil {
		meta.ChainID = existing.ChainID
		meta.GenesisHash = existing.GenesisHash
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "encoding chain metadata")
	}
	if err := writeAtomic(s.chainMetaPath(), metaBytes); err != nil {
		return errors.Wrapf(err, "writing chain metadata at height %d", height)
	}

	s.logger.WithFields(logrus.Fields{"height": height, "hash": cert.BlockHash.Hex()}).Info("fast-forwarded store to snapshot")
	return nil
}

// InitChainMeta writes the initial chain.meta for a freshly-initialized
// data directory, before any block has been committed.
func (s *Store) InitChainMeta(chainID string, genesisHash types.Hash) error {
	meta := ChainMeta{ChainID: chainID, GenesisHash: genesisHash, LatestHeight: 0}
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return writeAtomic(s.chainMetaPath(), b)
}

// WriteRoundState persists the in-flight round so a restart can resume
// without replaying consensus for the current height from round 0.
func (s *Store) WriteRoundState(rs RoundState) error {
	b, err := json.Marshal(rs)
	if err != nil {
		return err
	}
	return writeAtomic(s.roundStatePath(), b)
}

// ReadChainMeta loads meta/chain.meta.
func (s *Store) ReadChainMeta() (ChainMeta, error) {
	data, err := os.ReadFile(s.chainMetaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return ChainMeta{}, common.NewTypedErr(common.KeyNotFound, s.chainMetaPath())
		}
		return ChainMeta{}, common.NewTypedErr(common.StoreIOError, err.Error())
	}
	var meta ChainMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return ChainMeta{}, common.NewTypedErr(common.StoreCorruption, err.Error())
	}
	return meta, nil
}

// ReadRoundState loads state/round_state.json, if present.
func (s *Store) ReadRoundState() (*RoundState, error) {
	data, err := os.ReadFile(s.roundStatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, common.NewTypedErr(common.StoreIOError, err.Error())
	}
	var rs RoundState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, common.NewTypedErr(common.StoreCorruption, err.Error())
	}
	return &rs, nil
}

// ReadBlock loads and decodes blocks/{h:0>6}.block.
func (s *Store) ReadBlock(height uint64) (types.Block, error) {
	data, err := os.ReadFile(s.blockPath(height))
	if err != nil {
		if os.IsNotExist(err) {
			return types.Block{}, common.NewTypedErr(common.KeyNotFound, s.blockPath(height))
		}
		return types.Block{}, common.NewTypedErr(common.StoreIOError, err.Error())
	}
	b, err := types.DecodeBlock(data)
	if err != nil {
		return types.Block{}, common.NewTypedErr(common.StoreCorruption, err.Error())
	}
	return b, nil
}

// ReadFinality loads and decodes state/finality_{h}.json.
func (s *Store) ReadFinality(height uint64) (types.FinalityCertificate, error) {
	data, err := os.ReadFile(s.finalityPath(height))
	if err != nil {
		if os.IsNotExist(err) {
			return types.FinalityCertificate{}, common.NewTypedErr(common.KeyNotFound, s.finalityPath(height))
		}
		return types.FinalityCertificate{}, common.NewTypedErr(common.StoreIOError, err.Error())
	}
	var d finalityDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return types.FinalityCertificate{}, common.NewTypedErr(common.StoreCorruption, err.Error())
	}
	return fromFinalityDoc(d), nil
}

// ReadLatestState loads and decodes state/latest.state.
func (s *Store) ReadLatestState() (*types.State, error) {
	return s.readStateFile(s.latestStatePath())
}

// ReadSnapshot loads and decodes state/snapshot_{h}.state.
func (s *Store) ReadSnapshot(height uint64) (*types.State, error) {
	return s.readStateFile(s.snapshotPath(height))
}

func (s *Store) readStateFile(path string) (*types.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.NewTypedErr(common.KeyNotFound, path)
		}
		return nil, common.NewTypedErr(common.StoreIOError, err.Error())
	}
	st, err := types.DecodeState(data)
	if err != nil {
		return nil, common.NewTypedErr(common.StoreCorruption, err.Error())
	}
	return st, nil
}
