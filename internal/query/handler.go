// Package query serves read access to committed trees and the reverse
// address index over JSON-RPC.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	groupmodels "creddd/internal/group/models"
	"creddd/internal/tree/models"
	dErrors "creddd/pkg/domain-errors"
	"creddd/pkg/platform/httputil"
	"creddd/pkg/platform/sentinel"
)

const treeNotFoundMessage = "No Merkle tree found for the given Merkle root and group id"

// TreeFinder looks up committed trees.
type TreeFinder interface {
	FindByRoot(ctx context.Context, groupID groupmodels.GroupID, root common.Hash) (*models.TreeRecord, error)
}

// GroupIndex reads the reverse membership index.
type GroupIndex interface {
	Groups(ctx context.Context, addr common.Address) ([]groupmodels.GroupID, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type method func(ctx context.Context, params json.RawMessage) (any, error)

// Handler serves the JSON-RPC endpoint and the health probe.
type Handler struct {
	trees   TreeFinder
	index   GroupIndex
	logger  *slog.Logger
	checks  map[string]HealthCheck
	methods map[string]method
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithHealthCheck adds a named dependency to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) {
		h.checks[name] = check
	}
}

func New(trees TreeFinder, index GroupIndex, opts ...Option) *Handler {
	h := &Handler{
		trees:  trees,
		index:  index,
		logger: slog.Default(),
		checks: make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.methods = map[string]method{
		"getGroupMerkleTree": h.getGroupMerkleTree,
		"getAddressGroups":   h.getAddressGroups,
	}
	return h
}

// Register registers the query routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/rpc", h.handleRPC)
	r.Get("/healthz", h.handleHealth)
}

func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPC(w, rpcResponse{Error: &rpcError{Code: codeParseError, Message: "Parse error"}})
		return
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		writeRPC(w, rpcResponse{ID: req.ID, Error: &rpcError{Code: codeInvalidRequest, Message: "Invalid request"}})
		return
	}

	m, ok := h.methods[req.Method]
	if !ok {
		writeRPC(w, rpcResponse{ID: req.ID, Error: &rpcError{Code: codeMethodNotFound, Message: "Method not found"}})
		return
	}

	result, err := m(ctx, req.Params)
	if err != nil {
		rpcErr := toRPCError(err)
		if rpcErr.Code == codeInternalError {
			h.logger.ErrorContext(ctx, "rpc method failed", "method", req.Method, "error", err)
		}
		writeRPC(w, rpcResponse{ID: req.ID, Error: rpcErr})
		return
	}
	writeRPC(w, rpcResponse{ID: req.ID, Result: result})
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	resp.JSONRPC = jsonRPCVersion
	if resp.ID == nil {
		resp.ID = json.RawMessage("null")
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type merkleTreeResult struct {
	BlockNumber uint64 `json:"block_number"`
}

// getGroupMerkleTree answers at which block a root was canonical for a group.
func (h *Handler) getGroupMerkleTree(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := stringParams(raw, 2)
	if err != nil {
		return nil, err
	}
	root, err := parseRoot(params[0])
	if err != nil {
		return nil, err
	}
	groupID, err := groupmodels.ParseGroupID(params[1])
	if err != nil {
		return nil, err
	}

	record, err := h.trees.FindByRoot(ctx, groupID, root)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, treeNotFoundMessage)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load merkle tree")
	}
	return merkleTreeResult{BlockNumber: record.BlockNumber}, nil
}

type addressGroupsResult struct {
	GroupIDs []string `json:"group_ids"`
}

func (h *Handler) getAddressGroups(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := stringParams(raw, 1)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(params[0]) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "Invalid address")
	}

	ids, err := h.index.Groups(ctx, common.HexToAddress(params[0]))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read address groups")
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	sort.Strings(out)
	return addressGroupsResult{GroupIDs: out}, nil
}

func stringParams(raw json.RawMessage, want int) ([]string, error) {
	var params []string
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "Invalid params")
	}
	if len(params) != want {
		if want == 1 {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "Expected 1 parameter")
		}
		return nil, dErrors.New(dErrors.CodeInvalidInput, "Expected 2 parameters")
	}
	return params, nil
}

func parseRoot(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, dErrors.New(dErrors.CodeInvalidInput, "Invalid Merkle root")
	}
	return common.BytesToHash(b), nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body[name] = "unavailable"
			continue
		}
		body[name] = "ok"
	}
	httputil.WriteJSON(w, status, body)
}
