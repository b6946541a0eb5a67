package coordinator

import (
	"fmt"

	"mini-rpc/dispatch"
	"mini-rpc/handle"
	"mini-rpc/port"
)

// CompactValidatorSet and ConsensusParams are carried as opaque,
// module-defined byte blobs rather than fully modeled consensus types:
// this core's scope is the module/transport/RTO/linker/coordinator
// machinery, not a concrete consensus algorithm, so the payload a real
// InitChain/UpdateChain implementation would fill in is left as bytes the
// coordinator passes through to whatever outer layer does understand
// them.
type CompactValidatorSet struct{ Raw []byte }
type ConsensusParams struct{ Raw []byte }

// Stateful lets the coordinator hand a module its per-session sub-storage
// handle before the session's work begins, and take it back when the
// session retires.
type Stateful interface {
	SetStorage(session SessionKey, storage handle.ServiceObjectId) error
	ClearStorage(session SessionKey) error
}

// InitGenesis drives a module through genesis initialization, once, the
// first time a chain starts from an empty sub-storage.
type InitGenesis interface {
	BeginGenesis(session SessionKey) error
	InitGenesisConfig(session SessionKey, config []byte) error
	EndGenesis(session SessionKey) error
}

// TxOwner is the core per-block service every transaction-handling module
// implements: admission checking, block open/close, and transaction
// execution.
type TxOwner interface {
	BlockOpened(session SessionKey, header Header) error
	ExecuteTransaction(session SessionKey, tx Transaction) (TransactionOutcome, error)
	CheckTransaction(tx Transaction) (ErrorCode, error)
	BlockClosed(session SessionKey) ([]Event, error)
}

// InitChain lets one designated module supply the genesis validator set
// and consensus parameters.
type InitChain interface {
	InitChain(session SessionKey) (CompactValidatorSet, ConsensusParams, error)
}

// UpdateChain lets one designated module propose a validator set and/or
// consensus parameter change to take effect at the next header. Either
// return value's zero value means "no change."
type UpdateChain interface {
	UpdateChain(session SessionKey) (*CompactValidatorSet, *ConsensusParams, error)
}

// TxSorter partitions and orders a batch of candidate transactions before
// execution.
type TxSorter interface {
	SortTxs(session SessionKey, txs []TransactionWithMetadata) (SortedTxs, error)
}

// HandleGraphQlRequest lets a module answer an ad hoc query against its
// own state, outside the block execution path.
type HandleGraphQlRequest interface {
	Execute(session SessionKey, query, variables string) (string, error)
}

// remoteService is the shared plumbing every remote-trait wrapper below
// uses: a Client, the object being addressed, and the method table mapping
// this trait's method names to ids.
type remoteService struct {
	client *port.Client
	id     handle.ServiceObjectId
	table  *dispatch.MethodTable
}

func (r remoteService) call(method string, args, reply any) error {
	id, ok := r.table.ID(method)
	if !ok {
		return fmt.Errorf("coordinator: method %q not in method table", method)
	}
	return r.client.Call(r.id, id, args, reply)
}

// txOwnerMethods is the method name list TxOwner's MethodTable is built
// from (NewMethodTable sorts it before assigning ids); both the host and the module side must agree on exactly
// this list (the module does, by implementing the same Go interface name
// set its dispatcher was built against).
var txOwnerMethods = []string{"BlockOpened", "ExecuteTransaction", "CheckTransaction", "BlockClosed"}

// remoteTxOwner adapts one exported TxOwner object into the TxOwner
// interface by issuing RTO calls through client.
type remoteTxOwner struct {
	remoteService
}

// NewRemoteTxOwner wraps id (an object exported by some module) as a
// TxOwner, issuing calls through client.
func NewRemoteTxOwner(client *port.Client, id handle.ServiceObjectId) TxOwner {
	return &remoteTxOwner{remoteService{client: client, id: id, table: dispatch.NewMethodTable(txOwnerMethods)}}
}

type blockOpenedArgs struct {
	Session SessionKey
	Header  Header
}

func (r *remoteTxOwner) BlockOpened(session SessionKey, header Header) error {
	return r.call("BlockOpened", &blockOpenedArgs{Session: session, Header: header}, nil)
}

type executeTransactionArgs struct {
	Session     SessionKey
	Transaction Transaction
}

func (r *remoteTxOwner) ExecuteTransaction(session SessionKey, tx Transaction) (TransactionOutcome, error) {
	var reply TransactionOutcome
	err := r.call("ExecuteTransaction", &executeTransactionArgs{Session: session, Transaction: tx}, &reply)
	return reply, err
}

type checkTransactionArgs struct {
	Transaction Transaction
}
type checkTransactionReply struct {
	Code ErrorCode
}

func (r *remoteTxOwner) CheckTransaction(tx Transaction) (ErrorCode, error) {
	var reply checkTransactionReply
	err := r.call("CheckTransaction", &checkTransactionArgs{Transaction: tx}, &reply)
	return reply.Code, err
}

type blockClosedArgs struct {
	Session SessionKey
}
type blockClosedReply struct {
	Events []Event
}

func (r *remoteTxOwner) BlockClosed(session SessionKey) ([]Event, error) {
	var reply blockClosedReply
	err := r.call("BlockClosed", &blockClosedArgs{Session: session}, &reply)
	return reply.Events, err
}

// txSorterMethods is TxSorter's method table source list.
var txSorterMethods = []string{"SortTxs"}

// remoteTxSorter adapts one exported TxSorter object.
type remoteTxSorter struct {
	remoteService
}

// NewRemoteTxSorter wraps id as a TxSorter.
func NewRemoteTxSorter(client *port.Client, id handle.ServiceObjectId) TxSorter {
	return &remoteTxSorter{remoteService{client: client, id: id, table: dispatch.NewMethodTable(txSorterMethods)}}
}

type sortTxsArgs struct {
	Session SessionKey
	Txs     []TransactionWithMetadata
}

func (r *remoteTxSorter) SortTxs(session SessionKey, txs []TransactionWithMetadata) (SortedTxs, error) {
	var reply SortedTxs
	err := r.call("SortTxs", &sortTxsArgs{Session: session, Txs: txs}, &reply)
	return reply, err
}

// statefulMethods is Stateful's method table source list.
var statefulMethods = []string{"SetStorage", "ClearStorage"}

type remoteStateful struct {
	remoteService
}

// NewRemoteStateful wraps id as a Stateful.
func NewRemoteStateful(client *port.Client, id handle.ServiceObjectId) Stateful {
	return &remoteStateful{remoteService{client: client, id: id, table: dispatch.NewMethodTable(statefulMethods)}}
}

type setStorageArgs struct {
	Session SessionKey
	Storage handle.ServiceObjectId
}

func (r *remoteStateful) SetStorage(session SessionKey, storage handle.ServiceObjectId) error {
	return r.call("SetStorage", &setStorageArgs{Session: session, Storage: storage}, nil)
}

type clearStorageArgs struct {
	Session SessionKey
}

func (r *remoteStateful) ClearStorage(session SessionKey) error {
	return r.call("ClearStorage", &clearStorageArgs{Session: session}, nil)
}
