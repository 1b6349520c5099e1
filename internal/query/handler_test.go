package query

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"creddd/internal/addressindex"
	groupmodels "creddd/internal/group/models"
	"creddd/internal/platform/logger"
	"creddd/internal/tree/models"
	treestore "creddd/internal/tree/store"
	"creddd/pkg/testutil"
)

type rpcEnvelope struct {
	JSONRPC string         `json:"jsonrpc"`
	Result  map[string]any `json:"result"`
	Error   *rpcError      `json:"error"`
	ID      any            `json:"id"`
}

type failingTrees struct{}

func (failingTrees) FindByRoot(context.Context, groupmodels.GroupID, common.Hash) (*models.TreeRecord, error) {
	return nil, errors.New("connection refused")
}

type QueryHandlerSuite struct {
	suite.Suite
	trees   *treestore.InMemory
	index   *addressindex.InMemory
	router  http.Handler
	groupID groupmodels.GroupID
	root    common.Hash
}

func TestQueryHandlerSuite(t *testing.T) {
	suite.Run(t, new(QueryHandlerSuite))
}

func (s *QueryHandlerSuite) SetupTest() {
	s.trees = treestore.NewInMemory()
	s.index = addressindex.NewInMemory()
	s.groupID = groupmodels.MustParseGroupID(fmt.Sprintf("%064x", 0xaa))
	s.root = common.HexToHash("0x5e1f")

	ctx := context.Background()
	s.Require().NoError(s.trees.Save(ctx, models.NewTreeRecord(s.groupID, s.root, 1234, time.Now()), nil))
	s.Require().NoError(s.index.Upsert(ctx, s.groupID, common.HexToAddress("0x1000000000000000000000000000000000000001")))

	h := New(s.trees, s.index, WithLogger(logger.Discard()))
	s.router = NewRouter(h, prometheus.NewRegistry(), logger.Discard())
}

func (s *QueryHandlerSuite) call(method string, params any) *rpcEnvelope {
	req := testutil.NewJSONRPCRequest(s.T(), "/rpc", method, 1, params)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusOK(s.T(), rr)
	return testutil.UnmarshalResponse[rpcEnvelope](s.T(), rr)
}

func (s *QueryHandlerSuite) TestGetGroupMerkleTree() {
	resp := s.call("getGroupMerkleTree", []string{s.root.Hex(), s.groupID.Hex()})
	s.Require().Nil(resp.Error)
	s.Equal("2.0", resp.JSONRPC)
	s.EqualValues(1234, resp.Result["block_number"])
	s.EqualValues(1, resp.ID)
}

func (s *QueryHandlerSuite) TestGetGroupMerkleTreeAcceptsUnprefixedGroupID() {
	resp := s.call("getGroupMerkleTree", []string{s.root.Hex(), s.groupID.Hex()[2:]})
	s.Require().Nil(resp.Error)
	s.EqualValues(1234, resp.Result["block_number"])
}

func (s *QueryHandlerSuite) TestGetGroupMerkleTreeNotFound() {
	resp := s.call("getGroupMerkleTree", []string{common.HexToHash("0x01").Hex(), s.groupID.Hex()})
	s.Require().NotNil(resp.Error)
	s.Equal(codeInvalidParams, resp.Error.Code)
	s.Equal(treeNotFoundMessage, resp.Error.Message)
}

func (s *QueryHandlerSuite) TestGetGroupMerkleTreeInvalidParams() {
	cases := map[string]any{
		"one param":      []string{s.root.Hex()},
		"three params":   []string{s.root.Hex(), s.groupID.Hex(), "x"},
		"not strings":    []int{1, 2},
		"bad root":       []string{"0x1234", s.groupID.Hex()},
		"bad group id":   []string{s.root.Hex(), "0xzz"},
		"object instead": map[string]string{"root": s.root.Hex()},
	}
	for name, params := range cases {
		s.Run(name, func() {
			resp := s.call("getGroupMerkleTree", params)
			s.Require().NotNil(resp.Error)
			s.Equal(codeInvalidParams, resp.Error.Code)
		})
	}
}

func (s *QueryHandlerSuite) TestGetGroupMerkleTreeStoreFailure() {
	h := New(failingTrees{}, s.index, WithLogger(logger.Discard()))
	s.router = NewRouter(h, prometheus.NewRegistry(), logger.Discard())

	resp := s.call("getGroupMerkleTree", []string{s.root.Hex(), s.groupID.Hex()})
	s.Require().NotNil(resp.Error)
	s.Equal(codeInternalError, resp.Error.Code)
	s.NotContains(resp.Error.Message, "connection refused")
}

func (s *QueryHandlerSuite) TestGetAddressGroups() {
	resp := s.call("getAddressGroups", []string{"0x1000000000000000000000000000000000000001"})
	s.Require().Nil(resp.Error)
	s.Equal([]any{s.groupID.Hex()}, resp.Result["group_ids"])

	resp = s.call("getAddressGroups", []string{"0x2000000000000000000000000000000000000002"})
	s.Require().Nil(resp.Error)
	s.Equal([]any{}, resp.Result["group_ids"])

	resp = s.call("getAddressGroups", []string{"not-an-address"})
	s.Require().NotNil(resp.Error)
	s.Equal(codeInvalidParams, resp.Error.Code)
}

func (s *QueryHandlerSuite) TestProtocolErrors() {
	rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, "/rpc", "{not json"))
	resp := testutil.UnmarshalResponse[rpcEnvelope](s.T(), rr)
	s.Require().NotNil(resp.Error)
	s.Equal(codeParseError, resp.Error.Code)

	resp = s.call("eth_chainId", []string{})
	s.Require().NotNil(resp.Error)
	s.Equal(codeMethodNotFound, resp.Error.Code)

	rr = testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, "/rpc", `{"jsonrpc":"1.0","method":"getAddressGroups","id":3}`))
	resp = testutil.UnmarshalResponse[rpcEnvelope](s.T(), rr)
	s.Require().NotNil(resp.Error)
	s.Equal(codeInvalidRequest, resp.Error.Code)
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: refused") }

	t.Run("all dependencies up", func(t *testing.T) {
		h := New(treestore.NewInMemory(), addressindex.NewInMemory(),
			WithLogger(logger.Discard()),
			WithHealthCheck("postgres", ok),
			WithHealthCheck("redis", ok),
		)
		rr := testutil.DoRequest(NewRouter(h, prometheus.NewRegistry(), logger.Discard()), testutil.NewRequest(t, http.MethodGet, "/healthz"))
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "status", "ok")
	})

	t.Run("one dependency down", func(t *testing.T) {
		h := New(treestore.NewInMemory(), addressindex.NewInMemory(),
			WithLogger(logger.Discard()),
			WithHealthCheck("postgres", ok),
			WithHealthCheck("redis", down),
		)
		rr := testutil.DoRequest(NewRouter(h, prometheus.NewRegistry(), logger.Discard()), testutil.NewRequest(t, http.MethodGet, "/healthz"))
		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
		body := testutil.UnmarshalResponse[map[string]string](t, rr)
		assert.Equal(t, "degraded", (*body)["status"])
		assert.Equal(t, "unavailable", (*body)["redis"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "creddd_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := New(treestore.NewInMemory(), addressindex.NewInMemory(), WithLogger(logger.Discard()))
	rr := testutil.DoRequest(NewRouter(h, reg, logger.Discard()), testutil.NewRequest(t, http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(t, rr)
	require.Contains(t, rr.Body.String(), "creddd_test_total 1")
}
