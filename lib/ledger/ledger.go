package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/ReneKroon/ttlcache"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("ledger")

// DefaultTTL is used when New is called with a ttl <= 0
const DefaultTTL = 120 * time.Second

// Record is the ledger entry of one request
type Record struct {
	ClientID  string
	RequestID int64
	CommandID int32
	Status    common.RequestStatus
	// Packets are the response packets of an executed request
	Packets [][]byte
}

// Ledger records the state of acknowledged requests per client, so that a
// client that lost a connection can ask whether its request was executed
// and get the response replayed. Records expire after the ledger ttl.
type Ledger struct {
	records *ttlcache.Cache
	// clients indexes the request ids of every client
	clients *xsync.MapOf[string, *xsync.MapOf[int64, struct{}]]

	mu     sync.Mutex
	closed bool
}

// New creates a ledger whose records expire after ttl
func New(ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	l := &Ledger{
		records: ttlcache.NewCache(),
		clients: xsync.NewMapOf[string, *xsync.MapOf[int64, struct{}]](),
	}
	l.records.SetTTL(ttl)
	l.records.SetExpirationCallback(func(_ string, value interface{}) {
		if r, ok := value.(*Record); ok {
			l.unindex(r.ClientID, r.RequestID)
		}
	})
	return l
}

func recordKey(clientID string, requestID int64) string {
	return fmt.Sprintf("%s/%d", clientID, requestID)
}

// Register records a request as ReceivedAndUnderProcessing. A non negative
// acknowledgedID releases every record of the client up to that id, the
// client has seen those responses. Requests without client id or with a
// request id <= 0 are not recorded.
func (l *Ledger) Register(clientID string, requestID int64, commandID int32, acknowledgedID int64) {
	if clientID == "" || requestID <= 0 {
		return
	}

	ids, _ := l.clients.LoadOrCompute(clientID, func() *xsync.MapOf[int64, struct{}] {
		return xsync.NewMapOf[int64, struct{}]()
	})
	ids.Store(requestID, struct{}{})
	l.records.Set(recordKey(clientID, requestID), &Record{
		ClientID:  clientID,
		RequestID: requestID,
		CommandID: commandID,
		Status:    common.RequestReceivedAndUnderProcessing,
	})

	if acknowledgedID >= 0 {
		l.release(clientID, ids, acknowledgedID)
	}
}

// Update sets the final state of a registered request. Unknown requests are
// ignored.
func (l *Ledger) Update(clientID string, requestID int64, status common.RequestStatus, packets [][]byte) {
	if clientID == "" || requestID <= 0 {
		return
	}
	key := recordKey(clientID, requestID)
	value, found := l.records.Get(key)
	if !found {
		Logger.Debugf("Update of unknown request %d of client %s", requestID, clientID)
		return
	}
	old := value.(*Record)
	l.records.Set(key, &Record{
		ClientID:  clientID,
		RequestID: requestID,
		CommandID: old.CommandID,
		Status:    status,
		Packets:   packets,
	})
}

// Status returns the state of a request, RequestNotReceived for requests the
// ledger does not know (anymore)
func (l *Ledger) Status(clientID string, requestID int64) (common.RequestStatus, [][]byte) {
	value, found := l.records.Get(recordKey(clientID, requestID))
	if !found {
		return common.RequestNotReceived, nil
	}
	r := value.(*Record)
	return r.Status, r.Packets
}

// DropClient removes every record of a client
func (l *Ledger) DropClient(clientID string) {
	ids, ok := l.clients.LoadAndDelete(clientID)
	if !ok {
		return
	}
	n := 0
	ids.Range(func(requestID int64, _ struct{}) bool {
		l.records.Remove(recordKey(clientID, requestID))
		n++
		return true
	})
	Logger.Debugf("Dropped %d ledger records of client %s", n, clientID)
}

// Len returns the number of records
func (l *Ledger) Len() int {
	return l.records.Count()
}

// Close stops the expiration of records. The ledger must not be used after Close.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.records.Close()
	l.clients.Clear()
}

// release removes the records of a client up to and including acknowledgedID
func (l *Ledger) release(clientID string, ids *xsync.MapOf[int64, struct{}], acknowledgedID int64) {
	ids.Range(func(requestID int64, _ struct{}) bool {
		if requestID <= acknowledgedID {
			ids.Delete(requestID)
			l.records.Remove(recordKey(clientID, requestID))
		}
		return true
	})
}

func (l *Ledger) unindex(clientID string, requestID int64) {
	if ids, ok := l.clients.Load(clientID); ok {
		ids.Delete(requestID)
	}
}
