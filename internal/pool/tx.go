package pool

import (
	"encoding/binary"
	"log/slog"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/hicpool/pool-engine/internal/config"
	"github.com/hicpool/pool-engine/internal/model"
)

const secondsPerDay = 86400

// tx is one atomic operation against a cloned state. Events are buffered
// and only leave the pool if the operation commits.
type tx struct {
	st     *State
	p      *config.Params
	now    int64
	events []model.Event
	logs   []logEntry
}

// logEntry is a log line held back until the operation commits.
type logEntry struct {
	level slog.Level
	msg   string
	args  []any
}

func (t *tx) log(level slog.Level, msg string, args ...any) {
	t.logs = append(t.logs, logEntry{level: level, msg: msg, args: args})
}

func (t *tx) emit(ev model.Event) {
	t.st.EventSeq++
	ev.Seq = t.st.EventSeq
	ev.Timestamp = time.Unix(t.now, 0).UTC()
	if ev.Category == model.CategoryBank && ev.Bank != nil {
		t.st.BankTotals.add(*ev.Bank)
	}
	t.events = append(t.events, ev)
}

func (t *tx) today() int64 { return t.st.CurrentPoolDay }

// --- Event helpers ---

func (t *tx) bondEvent(b *model.Bond, secondary model.Hash, info int64) {
	if secondary.IsZero() {
		secondary = AddressHash(b.Owner)
	}
	t.emit(model.Event{Category: model.CategoryBond, Subject: b.Hash, Secondary: secondary, Info: info, State: int(b.State)})
}

func (t *tx) policyEvent(p *model.Policy, secondary model.Hash, info int64) {
	if secondary.IsZero() {
		secondary = AddressHash(p.Owner)
	}
	t.emit(model.Event{Category: model.CategoryPolicy, Subject: p.Hash, Secondary: secondary, Info: info, State: int(p.State)})
}

func (t *tx) adjustorEvent(a *model.Adjustor, secondary model.Hash, info int64) {
	if secondary.IsZero() {
		secondary = AddressHash(a.Owner)
	}
	t.emit(model.Event{Category: model.CategoryAdjustor, Subject: a.Hash, Secondary: secondary, Info: info})
}

func (t *tx) settlementEvent(s *model.Settlement, secondary model.Hash, info int64) {
	if secondary.IsZero() {
		secondary = s.AdjustorHash
	}
	t.emit(model.Event{Category: model.CategorySettlement, Subject: s.Hash, Secondary: secondary, Info: info, State: int(s.State)})
}

// poolEvent records one computed pool quantity for a pool day.
func (t *tx) poolEvent(name string, day, value int64) {
	t.emit(model.Event{Category: model.CategoryPool, Name: name, Day: day, Info: value})
}

func (t *tx) trustEvent(name string, caller model.Address, info int64) {
	t.emit(model.Event{Category: model.CategoryTrust, Name: name, Secondary: AddressHash(caller), Day: t.today(), Info: info})
}

// --- Hashing ---

func keccak(parts ...[]byte) model.Hash {
	k := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		k.Write(p)
	}
	var h model.Hash
	copy(h[:], k.Sum(nil))
	return h
}

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// AddressHash is the keccak256 hash of an address.
func AddressHash(a model.Address) model.Hash { return keccak([]byte(a)) }

// entityHash derives the hash of a new entity from its kind, owner, the
// ordinal it will receive and the creation time.
func entityHash(kind string, owner model.Address, ordinal uint64, now int64) model.Hash {
	return keccak([]byte(kind), []byte(owner), u64(ordinal), u64(uint64(now)))
}

// PaymentAccountHash derives the payment account hash of an entity.
func PaymentAccountHash(entity model.Hash) model.Hash { return keccak(entity[:]) }

// --- Pool time ---

// dstAdjustment is the shift applied to pool midnight in summer time.
func dstAdjustment(p *config.Params, winter bool) int64 {
	if winter {
		return 0
	}
	return p.DaylightSavingAdjSec
}

// poolDayAt returns the pool day a unix timestamp falls into.
func poolDayAt(p *config.Params, winter bool, ts int64) int64 {
	local := ts - p.TimeZoneOffsetSec - p.DailyProcessingOffsetSec + dstAdjustment(p, winter)
	day := local / secondsPerDay
	if local < 0 && local%secondsPerDay != 0 {
		day--
	}
	return day
}

// poolDayStart returns the unix timestamp at which a pool day begins.
func poolDayStart(p *config.Params, winter bool, day int64) int64 {
	return day*secondsPerDay + p.TimeZoneOffsetSec + p.DailyProcessingOffsetSec - dstAdjustment(p, winter)
}

// dayStart is poolDayStart for the pool's current daylight-saving regime.
func (t *tx) dayStart(day int64) int64 {
	return poolDayStart(t.p, t.st.IsWinterTime, day)
}
