/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package demux

import (
	"sync/atomic"
)

// Quota is the combined word counter gating writes of all channels.
// A limit of 0 means unlimited.
type Quota struct {
	limit uint64
	words uint64
}

func NewQuota(limit uint64) *Quota {
	return &Quota{limit: limit}
}

// Open reports whether another write may be admitted
func (q *Quota) Open() bool {
	return q.limit == 0 || atomic.LoadUint64(&q.words) < q.limit
}

// Reached reports whether a non zero limit has been met
func (q *Quota) Reached() bool {
	return q.limit != 0 && atomic.LoadUint64(&q.words) >= q.limit
}

func (q *Quota) Add(words uint64) uint64 {
	return atomic.AddUint64(&q.words, words)
}

func (q *Quota) Words() uint64 {
	return atomic.LoadUint64(&q.words)
}

func (q *Quota) Limit() uint64 {
	return q.limit
}

func (q *Quota) Reset() {
	atomic.StoreUint64(&q.words, 0)
}
