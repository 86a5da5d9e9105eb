package server

import (
	"sync/atomic"

	"github.com/juju/ratelimit"
)

// Valve is shared by every connection of a server. It counts echoed bytes and
// throttles them through token buckets.
// rx is from client to server, tx is from server to client.
type Valve struct {
	rx int64
	tx int64

	// nil bucket means unlimited
	rxtb atomic.Value // *ratelimit.Bucket
	txtb atomic.Value // *ratelimit.Bucket
}

// MakeValve makes a valve limited to rxRate and txRate bytes per second. A rate of
// 0 or less is unlimited.
func MakeValve(rxRate, txRate int64) *Valve {
	v := &Valve{}
	v.SetRxRate(rxRate)
	v.SetTxRate(txRate)
	return v
}

func bucketOf(rate int64) *ratelimit.Bucket {
	if rate <= 0 {
		return nil
	}
	return ratelimit.NewBucketWithRate(float64(rate), rate)
}

func wait(tb *atomic.Value, n int) {
	if bucket := tb.Load().(*ratelimit.Bucket); bucket != nil {
		bucket.Wait(int64(n))
	}
}

func (v *Valve) SetRxRate(rate int64) { v.rxtb.Store(bucketOf(rate)) }
func (v *Valve) SetTxRate(rate int64) { v.txtb.Store(bucketOf(rate)) }
func (v *Valve) rxWait(n int)         { wait(&v.rxtb, n) }
func (v *Valve) txWait(n int)         { wait(&v.txtb, n) }
func (v *Valve) AddRx(n int64)        { atomic.AddInt64(&v.rx, n) }
func (v *Valve) AddTx(n int64)        { atomic.AddInt64(&v.tx, n) }
func (v *Valve) GetRx() int64         { return atomic.LoadInt64(&v.rx) }
func (v *Valve) GetTx() int64         { return atomic.LoadInt64(&v.tx) }
