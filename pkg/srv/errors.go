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

package srv

import (
	"fmt"
)

// ErrTargetNotFound is returned for a target that has not been opened
type ErrTargetNotFound struct {
	Target int
}

func (e ErrTargetNotFound) Error() string {
	return fmt.Sprintf("Target %d is not open", e.Target)
}

type ErrNoCaptureStore struct{}

func (e ErrNoCaptureStore) Error() string {
	return "Capture store is not configured"
}
