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

package sink

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrOverflow is returned when a write does not fit in the remaining capacity.
// Nothing is written in that case.
var ErrOverflow = errors.New("Channel sink overflow")

type ErrUnsupportedPlacement struct {
	Placement string
}

func (e ErrUnsupportedPlacement) Error() string {
	return fmt.Sprintf("Unsupported sink placement: %s", e.Placement)
}
