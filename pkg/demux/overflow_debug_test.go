//go:build debug

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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessOverflowPanics(t *testing.T) {
	d, _ := newDemux(4, 100, nil)
	assert.Panics(t, func() {
		d.Process(concat(packet(t, 256, 1, 2, 3, 4), packet(t, 256, 5, 6)))
	})
}
