// Package service exposes a minimal read-only HTTP status endpoint over a
// running node, fronting it with a small JSON API. This is ambient
// operational tooling, not a consensus component: Node can run perfectly
// well with NoService set.
package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tendergraph-io/node/node"
)

// Service serves a small set of read-only diagnostic endpoints over HTTP.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	logger      *logrus.Entry
}

// NewService builds a Service bound to bindAddress, fronting n.
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	s := &Service{
		bindAddress: bindAddress,
		node:        n,
		logger:      logger,
	}
	s.registerHandlers()
	return s
}

func (s *Service) registerHandlers() {
	s.logger.Debug("registering status API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/block/", s.makeHandler(s.GetBlock))
	http.HandleFunc("/validators", s.makeHandler(s.GetValidators))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		w.Header().Set("Access-Control-Allow-Origin", "*")
		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call; run it in its own
// goroutine.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("serving status API")

	if err := http.ListenAndServe(s.bindAddress, nil); err != nil {
		s.logger.Error(err)
	}
}

// statsPayload is the shape returned by GetStats.
type statsPayload struct {
	Height             uint64 `json:"height"`
	MempoolLen         int    `json:"mempool_len"`
	Phase              string `json:"phase"`
	Round              uint32 `json:"round"`
	Suspended          bool   `json:"suspended"`
	UndeterminedRounds int    `json:"undetermined_rounds"`
}

// GetStats reports the node's current height, round, phase, mempool size
// and maintenance status.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := statsPayload{
		Height:             s.node.Runtime.Height(),
		MempoolLen:         s.node.Runtime.MempoolLen(),
		Phase:              s.node.Engine.CurrentPhase().String(),
		Round:              s.node.Engine.Round(),
		Suspended:          s.node.Engine.Suspended(),
		UndeterminedRounds: s.node.Engine.UndeterminedRounds(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// GetBlock returns the finalized block at the requested height.
func (s *Service) GetBlock(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/block/"):]

	height, err := strconv.ParseUint(param, 10, 64)
	if err != nil {
		s.logger.WithError(err).Errorf("parsing block height %q", param)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	block, err := s.node.Store.ReadBlock(height)
	if err != nil {
		s.logger.WithError(err).Errorf("reading block %d", height)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(block)
}

// validatorPayload is the shape returned by GetValidators.
type validatorPayload struct {
	ID     string `json:"id"`
	Weight int    `json:"weight"`
}

// GetValidators returns the current validator set in canonical order.
func (s *Service) GetValidators(w http.ResponseWriter, r *http.Request) {
	var out []validatorPayload
	for _, v := range s.node.ValidatorSet.Sorted {
		out = append(out, validatorPayload{ID: v.ID.Hex(), Weight: v.Weight})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
